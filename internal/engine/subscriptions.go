package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/marketmux/marketmux/internal/jsonrpc"
	"github.com/marketmux/marketmux/internal/logctx"
	"github.com/marketmux/marketmux/wire"
)

// subscribe installs the recurring feed task for (session, uri). The swap is
// a single critical section: the map points at the replacement before the old
// task is cancelled, so every handle that ever lands in rec.subs stays
// reachable by unsubscribe and closeSession. The old task is fully drained
// before the replacement's goroutine starts, so at most one task per pair
// ever ticks.
func (e *Engine) subscribe(ctx context.Context, rec *sessionRecord, uri, symbol string) error {
	// The task outlives the request that created it; keep the request's log
	// attributes but detach its cancellation.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		uri:    uri,
		symbol: symbol,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	rec.mu.Lock()
	if rec.state == stateClosed {
		rec.mu.Unlock()
		cancel()
		close(sub.done)
		return errSessionClosed
	}
	prev := rec.subs[uri]
	if rec.subs == nil {
		rec.subs = make(map[string]*subscription)
	}
	rec.subs[uri] = sub
	rec.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	go e.runSubscription(taskCtx, rec, sub)

	e.log.InfoContext(ctx, "engine.feed.subscribe",
		slog.String("sess_id", rec.id),
		slog.String("uri", uri),
	)
	return nil
}

// unsubscribe cancels the recurring task for (session, uri) if one exists.
// Cancellation is synchronous with respect to the ticker's next fire: a tick
// already in flight may deliver once more, then nothing.
func (e *Engine) unsubscribe(rec *sessionRecord, uri string) {
	rec.mu.Lock()
	sub := rec.subs[uri]
	delete(rec.subs, uri)
	rec.mu.Unlock()

	if sub != nil {
		sub.cancel()
	}
}

// runSubscription is the recurring task body: one goroutine per (session,
// uri), ticking at the engine cadence. Each tick snapshots the feed and, if a
// stream is bound, publishes a notifications/feed/updated message to the
// session's ordered log. Ticks with no bound stream are dropped outright.
func (e *Engine) runSubscription(ctx context.Context, rec *sessionRecord, sub *subscription) {
	defer close(sub.done)

	ctx = logctx.WithFeedData(ctx, &logctx.FeedData{URI: sub.uri})
	t := time.NewTicker(e.tickInterval)
	defer t.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if ctx.Err() != nil {
			return
		}

		q, err := e.quotes.Quote(ctx, sub.symbol)
		if err != nil {
			e.log.WarnContext(ctx, "engine.feed.tick.fail",
				slog.String("sess_id", rec.id),
				slog.String("err", err.Error()),
			)
			continue
		}
		seq++

		if !rec.streamBound() {
			continue
		}

		note, err := jsonrpc.NewRequest(nil, string(wire.FeedUpdatedNotificationMethod), &wire.FeedUpdatedNotification{
			URI:     sub.uri,
			Quote:   q,
			Seq:     seq,
			AtMilli: q.AtMilli,
		})
		if err != nil {
			e.log.ErrorContext(ctx, "engine.feed.tick.encode_fail",
				slog.String("sess_id", rec.id),
				slog.String("err", err.Error()),
			)
			continue
		}
		b, err := json.Marshal(note)
		if err != nil {
			e.log.ErrorContext(ctx, "engine.feed.tick.encode_fail",
				slog.String("sess_id", rec.id),
				slog.String("err", err.Error()),
			)
			continue
		}

		if _, err := e.host.PublishSession(ctx, rec.id, b); err != nil {
			// Racing a concurrent close; the next ctx check ends the task.
			e.log.DebugContext(ctx, "engine.feed.tick.publish_fail",
				slog.String("sess_id", rec.id),
				slog.String("err", err.Error()),
			)
		}
	}
}
