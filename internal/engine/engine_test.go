package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmux/marketmux/feed"
	"github.com/marketmux/marketmux/internal/jsonrpc"
	"github.com/marketmux/marketmux/internal/sessionseal"
	"github.com/marketmux/marketmux/sessions"
	"github.com/marketmux/marketmux/sessions/memoryhost"
	"github.com/marketmux/marketmux/wire"
)

const testTick = 20 * time.Millisecond

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	sealer, err := sessionseal.NewRandom()
	require.NoError(t, err)
	catalog := feed.DefaultCatalog()
	f := feed.NewStaticFeed(catalog)
	base := []EngineOption{
		WithTickInterval(testTick),
		WithShutdownGrace(time.Second),
	}
	return NewEngine(memoryhost.New(), f, f, catalog, sealer, append(base, opts...)...)
}

func initSession(t *testing.T, e *Engine, userID string) *SessionHandle {
	t.Helper()
	sess, res, err := e.InitializeSession(context.Background(), userID, &wire.InitializeRequest{
		ClientInfo: wire.ClientInfo{Name: "engine-test", Version: "0.0.1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.SessionID())
	require.Positive(t, res.FeedCount)
	return sess
}

// capture collects feed notifications delivered over a bound stream.
type capture struct {
	mu    sync.Mutex
	notes []wire.FeedUpdatedNotification
}

func (c *capture) handle(ctx context.Context, msgID string, msg []byte) error {
	var any jsonrpc.AnyMessage
	if err := json.Unmarshal(msg, &any); err != nil {
		return err
	}
	if any.Method != string(wire.FeedUpdatedNotificationMethod) {
		return nil
	}
	var n wire.FeedUpdatedNotification
	if err := json.Unmarshal(any.Params, &n); err != nil {
		return err
	}
	c.mu.Lock()
	c.notes = append(c.notes, n)
	c.mu.Unlock()
	return nil
}

func (c *capture) byURI(uri string) []wire.FeedUpdatedNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wire.FeedUpdatedNotification
	for _, n := range c.notes {
		if n.URI == uri {
			out = append(out, n)
		}
	}
	return out
}

func (c *capture) count(uri string) int { return len(c.byURI(uri)) }

// attach binds a stream to the session and waits until the binding is live.
// The returned stop func detaches the stream and waits for StreamSession to
// return.
func attach(t *testing.T, e *Engine, sess *SessionHandle, c *capture) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.StreamSession(ctx, sess, "", c.handle)
	}()
	require.Eventually(t, func() bool {
		return sess.State() == "stream_bound"
	}, time.Second, time.Millisecond)

	var once sync.Once
	stop = func() error {
		once.Do(cancel)
		return <-done
	}
	t.Cleanup(func() { once.Do(cancel) })
	return stop
}

func subscribeOK(t *testing.T, e *Engine, sess *SessionHandle, uri string) {
	t.Helper()
	res := rpc(t, e, sess, wire.FeedsSubscribeMethod, wire.SubscribeRequest{URI: uri})
	require.Nil(t, res.Error, "subscribe %s: %+v", uri, res.Error)
}

func rpc(t *testing.T, e *Engine, sess *SessionHandle, method wire.Method, params any) *jsonrpc.Response {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID("t1"), string(method), params)
	require.NoError(t, err)
	res, err := e.HandleRequest(context.Background(), sess, req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestInitializeAssignsDistinctSessionIDs(t *testing.T) {
	e := newTestEngine(t)
	seen := make(map[string]bool)
	for range 50 {
		sess := initSession(t, e, "user-a")
		require.False(t, seen[sess.SessionID()], "session id reused")
		seen[sess.SessionID()] = true
	}
}

func TestLoadSessionRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	got, err := e.LoadSession(context.Background(), sess.SessionID(), "user-a")
	require.NoError(t, err)
	assert.Equal(t, "user-a", got.UserID())
}

func TestLoadSessionRejections(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	t.Run("forged id", func(t *testing.T) {
		_, err := e.LoadSession(context.Background(), "not-a-real-session-id", "user-a")
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("foreign principal", func(t *testing.T) {
		_, err := e.LoadSession(context.Background(), sess.SessionID(), "user-b")
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("terminated session", func(t *testing.T) {
		require.NoError(t, e.TerminateSession(context.Background(), sess))
		_, err := e.LoadSession(context.Background(), sess.SessionID(), "user-a")
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})
}

func TestSubscribeRejectsNonStreamableURI(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	for _, uri := range []string{
		"stream://market/NOPE",
		"stream://market/",
		"stream://market/AAPL/extra",
		"file:///etc/passwd",
		"aapl",
	} {
		res := rpc(t, e, sess, wire.FeedsSubscribeMethod, wire.SubscribeRequest{URI: uri})
		require.NotNil(t, res.Error, "uri %s accepted", uri)
		codes := map[jsonrpc.ErrorCode]bool{
			jsonrpc.ErrorCodeNotStreamable: true,
			jsonrpc.ErrorCodeInvalidParams: true,
		}
		assert.True(t, codes[res.Error.Code], "uri %s: code %d", uri, res.Error.Code)
	}

	res := rpc(t, e, sess, wire.FeedsSubscribeMethod, wire.SubscribeRequest{URI: "stream://market/NOPE"})
	require.NotNil(t, res.Error)
	assert.Equal(t, jsonrpc.ErrorCodeNotStreamable, res.Error.Code)
}

func TestSubscribeDeliversOrderedTicks(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")
	var c capture
	attach(t, e, sess, &c)

	uri := feed.URIFor("AAPL")
	subscribeOK(t, e, sess, uri)

	require.Eventually(t, func() bool {
		return c.count(uri) >= 3
	}, 3*time.Second, testTick)

	notes := c.byURI(uri)
	for i := 1; i < len(notes); i++ {
		assert.Greater(t, notes[i].Seq, notes[i-1].Seq, "ticks out of order")
	}
	for _, n := range notes {
		require.NotNil(t, n.Quote)
		assert.Equal(t, "AAPL", n.Quote.Symbol)
		assert.Positive(t, n.AtMilli)
	}
}

func TestUnsubscribeStopsOneURIWhileOtherFlows(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")
	var c capture
	attach(t, e, sess, &c)

	aapl := feed.URIFor("AAPL")
	msft := feed.URIFor("MSFT")
	subscribeOK(t, e, sess, aapl)
	subscribeOK(t, e, sess, msft)

	require.Eventually(t, func() bool {
		return c.count(aapl) >= 2 && c.count(msft) >= 2
	}, 3*time.Second, testTick)

	res := rpc(t, e, sess, wire.FeedsUnsubscribeMethod, wire.UnsubscribeRequest{URI: aapl})
	require.Nil(t, res.Error)

	// One in-flight tick may still land; after that the stopped feed stays
	// silent while the other keeps flowing.
	time.Sleep(2 * testTick)
	high := c.count(aapl)
	msftBefore := c.count(msft)

	time.Sleep(6 * testTick)
	assert.LessOrEqual(t, c.count(aapl), high, "stopped feed kept ticking")
	assert.Greater(t, c.count(msft), msftBefore, "surviving feed stalled")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	for range 3 {
		res := rpc(t, e, sess, wire.FeedsUnsubscribeMethod, wire.UnsubscribeRequest{URI: feed.URIFor("AAPL")})
		require.Nil(t, res.Error)
	}
}

func TestDoubleSubscribeKeepsSingleTask(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")
	var c capture
	attach(t, e, sess, &c)

	uri := feed.URIFor("NVDA")
	subscribeOK(t, e, sess, uri)
	subscribeOK(t, e, sess, uri)

	require.Eventually(t, func() bool {
		return c.count(uri) >= 2
	}, 3*time.Second, testTick)

	// A single unsubscribe silences the pair: the second subscribe replaced
	// the first task instead of stacking a duplicate.
	res := rpc(t, e, sess, wire.FeedsUnsubscribeMethod, wire.UnsubscribeRequest{URI: uri})
	require.Nil(t, res.Error)

	time.Sleep(2 * testTick)
	high := c.count(uri)
	time.Sleep(6 * testTick)
	assert.LessOrEqual(t, c.count(uri), high, "duplicate task survived unsubscribe")
}

func TestConcurrentResubscribeLeavesSingleTask(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")
	var c capture
	attach(t, e, sess, &c)

	uri := feed.URIFor("TSLA")
	subscribeOK(t, e, sess, uri)

	// Hammer the same URI from many goroutines. Whatever interleaving wins,
	// exactly one task may survive, and it must be the one the registry
	// holds, so the single unsubscribe below silences it.
	symbol, ok := e.catalog.SymbolForURI(uri)
	require.True(t, ok)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.subscribe(context.Background(), sess.rec, uri, symbol)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return c.count(uri) >= 2
	}, 3*time.Second, testTick)

	res := rpc(t, e, sess, wire.FeedsUnsubscribeMethod, wire.UnsubscribeRequest{URI: uri})
	require.Nil(t, res.Error)

	time.Sleep(2 * testTick)
	high := c.count(uri)
	time.Sleep(8 * testTick)
	assert.LessOrEqual(t, c.count(uri), high, "orphaned task kept ticking after unsubscribe")
}

func TestTerminateStopsAllSubscriptions(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")
	var c capture
	attach(t, e, sess, &c)

	aapl := feed.URIFor("AAPL")
	tsla := feed.URIFor("TSLA")
	subscribeOK(t, e, sess, aapl)
	subscribeOK(t, e, sess, tsla)

	require.Eventually(t, func() bool {
		return c.count(aapl) >= 1 && c.count(tsla) >= 1
	}, 3*time.Second, testTick)

	require.NoError(t, e.TerminateSession(context.Background(), sess))

	time.Sleep(2 * testTick)
	highA, highT := c.count(aapl), c.count(tsla)
	time.Sleep(6 * testTick)
	assert.LessOrEqual(t, c.count(aapl), highA)
	assert.LessOrEqual(t, c.count(tsla), highT)

	_, err := e.LoadSession(context.Background(), sess.SessionID(), "user-a")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestNewAttachReplacesPreviousStream(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	var first capture
	ctx1 := context.Background()
	done1 := make(chan error, 1)
	go func() {
		done1 <- e.StreamSession(ctx1, sess, "", first.handle)
	}()
	require.Eventually(t, func() bool {
		return sess.State() == "stream_bound"
	}, time.Second, time.Millisecond)

	var second capture
	stop2 := attach(t, e, sess, &second)

	select {
	case err := <-done1:
		assert.ErrorIs(t, err, ErrStreamSuperseded)
	case <-time.After(time.Second):
		t.Fatal("first stream not forcibly closed by the replacement attach")
	}

	// The session survives the handover: subscriptions land on the new stream.
	uri := feed.URIFor("GOOG")
	subscribeOK(t, e, sess, uri)
	require.Eventually(t, func() bool {
		return second.count(uri) >= 1
	}, 3*time.Second, testTick)
	assert.Zero(t, first.count(uri))

	_ = stop2()
}

func TestSessionIsolation(t *testing.T) {
	e := newTestEngine(t)
	s1 := initSession(t, e, "user-a")
	s2 := initSession(t, e, "user-b")

	var c1, c2 capture
	attach(t, e, s1, &c1)
	attach(t, e, s2, &c2)

	uri := feed.URIFor("AMZN")
	subscribeOK(t, e, s1, uri)

	require.Eventually(t, func() bool {
		return c1.count(uri) >= 3
	}, 3*time.Second, testTick)
	assert.Zero(t, c2.count(uri), "notification crossed sessions")
}

func TestTicksDroppedWhileUnbound(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	uri := feed.URIFor("MSFT")
	subscribeOK(t, e, sess, uri)

	// Let several ticks fire with no stream bound, then attach. The first
	// delivered notification must carry a later sequence number: the earlier
	// ticks were dropped, not queued for replay.
	time.Sleep(5 * testTick)

	var c capture
	attach(t, e, sess, &c)
	require.Eventually(t, func() bool {
		return c.count(uri) >= 1
	}, 3*time.Second, testTick)
	assert.Greater(t, c.byURI(uri)[0].Seq, uint64(1), "pre-bind ticks were queued instead of dropped")
}

func TestStreamCloseTearsDownSession(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")
	var c capture
	stop := attach(t, e, sess, &c)

	uri := feed.URIFor("AAPL")
	subscribeOK(t, e, sess, uri)
	require.Eventually(t, func() bool {
		return c.count(uri) >= 1
	}, 3*time.Second, testTick)

	_ = stop()

	require.Eventually(t, func() bool {
		_, err := e.LoadSession(context.Background(), sess.SessionID(), "user-a")
		return err != nil
	}, time.Second, time.Millisecond)

	time.Sleep(2 * testTick)
	high := c.count(uri)
	time.Sleep(6 * testTick)
	assert.LessOrEqual(t, c.count(uri), high, "subscription outlived its stream")
}

func TestShutdownClosesEverySession(t *testing.T) {
	e := newTestEngine(t)
	s1 := initSession(t, e, "user-a")
	s2 := initSession(t, e, "user-b")

	var c1, c2 capture
	attach(t, e, s1, &c1)
	attach(t, e, s2, &c2)
	subscribeOK(t, e, s1, feed.URIFor("AAPL"))
	subscribeOK(t, e, s2, feed.URIFor("TSLA"))

	require.NoError(t, e.Shutdown(context.Background()))

	for _, sess := range []*SessionHandle{s1, s2} {
		_, err := e.LoadSession(context.Background(), sess.SessionID(), sess.UserID())
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	}
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	res := rpc(t, e, sess, wire.Method("market/teleport"), nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, res.Error.Code)
}

func TestHandleRequestRejectsSecondInitialize(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	res := rpc(t, e, sess, wire.InitializeMethod, &wire.InitializeRequest{})
	require.NotNil(t, res.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidRequest, res.Error.Code)
}

func TestDataMethods(t *testing.T) {
	e := newTestEngine(t)
	sess := initSession(t, e, "user-a")

	t.Run("ping", func(t *testing.T) {
		res := rpc(t, e, sess, wire.PingMethod, nil)
		require.Nil(t, res.Error)
	})

	t.Run("quote", func(t *testing.T) {
		res := rpc(t, e, sess, wire.MarketQuoteMethod, wire.QuoteRequest{Symbol: "AAPL"})
		require.Nil(t, res.Error)
		var q wire.Quote
		require.NoError(t, json.Unmarshal(res.Result, &q))
		assert.Equal(t, "AAPL", q.Symbol)
		assert.Greater(t, q.Ask, q.Bid)
	})

	t.Run("quote unknown symbol", func(t *testing.T) {
		res := rpc(t, e, sess, wire.MarketQuoteMethod, wire.QuoteRequest{Symbol: "ZZZZ"})
		require.NotNil(t, res.Error)
		assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, res.Error.Code)
	})

	t.Run("candles", func(t *testing.T) {
		res := rpc(t, e, sess, wire.MarketCandlesMethod, wire.CandlesRequest{Symbol: "MSFT", Interval: "5m", Limit: 10})
		require.Nil(t, res.Error)
		var cr wire.CandlesResult
		require.NoError(t, json.Unmarshal(res.Result, &cr))
		assert.Len(t, cr.Candles, 10)
	})

	t.Run("symbols", func(t *testing.T) {
		res := rpc(t, e, sess, wire.MarketSymbolsMethod, nil)
		require.Nil(t, res.Error)
		var sr wire.SymbolsResult
		require.NoError(t, json.Unmarshal(res.Result, &sr))
		assert.NotEmpty(t, sr.Symbols)
	})

	t.Run("describe", func(t *testing.T) {
		res := rpc(t, e, sess, wire.MarketDescribeMethod, nil)
		require.Nil(t, res.Error)
		var dr struct {
			Methods []feed.MethodDescriptor `json:"methods"`
		}
		require.NoError(t, json.Unmarshal(res.Result, &dr))
		assert.NotEmpty(t, dr.Methods)
	})

	t.Run("accounts and positions", func(t *testing.T) {
		res := rpc(t, e, sess, wire.AccountsListMethod, nil)
		require.Nil(t, res.Error)
		var ar wire.AccountsListResult
		require.NoError(t, json.Unmarshal(res.Result, &ar))
		require.NotEmpty(t, ar.Accounts)

		res = rpc(t, e, sess, wire.AccountsPositionsMethod, wire.PositionsRequest{AccountID: ar.Accounts[0].ID})
		require.Nil(t, res.Error)
		var pr wire.PositionsResult
		require.NoError(t, json.Unmarshal(res.Result, &pr))
		assert.Equal(t, ar.Accounts[0].ID, pr.AccountID)
	})

	t.Run("positions unknown account", func(t *testing.T) {
		res := rpc(t, e, sess, wire.AccountsPositionsMethod, wire.PositionsRequest{AccountID: "acct-bogus"})
		require.NotNil(t, res.Error)
		assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, res.Error.Code)
	})
}
