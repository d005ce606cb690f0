package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/marketmux/marketmux/wire"
)

// StaticFeed is a deterministic mock generator over a Catalog. Prices are a
// pure function of (symbol, time), so two calls in the same millisecond agree
// and tests can assert on structure without pinning values.
type StaticFeed struct {
	catalog   *Catalog
	overrides *FileOverrides // optional; nil means none
	now       func() time.Time
}

var (
	_ QuoteProvider   = (*StaticFeed)(nil)
	_ AccountProvider = (*StaticFeed)(nil)
)

// StaticFeedOption configures a StaticFeed.
type StaticFeedOption func(*StaticFeed)

// WithOverrides layers file-sourced price overrides on top of the generator.
func WithOverrides(ov *FileOverrides) StaticFeedOption {
	return func(f *StaticFeed) { f.overrides = ov }
}

// WithClock substitutes the time source. Test hook.
func WithClock(now func() time.Time) StaticFeedOption {
	return func(f *StaticFeed) { f.now = now }
}

func NewStaticFeed(catalog *Catalog, opts ...StaticFeedOption) *StaticFeed {
	f := &StaticFeed{catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// basePrice derives a stable per-symbol anchor in the 20..520 range.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToUpper(symbol)))
	return 20 + float64(h.Sum32()%50000)/100
}

// priceAt synthesizes a slowly drifting price around the anchor.
func priceAt(symbol string, t time.Time) float64 {
	base := basePrice(symbol)
	phase := float64(t.Unix()%3600) / 3600 * 2 * math.Pi
	drift := math.Sin(phase) * base * 0.01
	jitter := math.Sin(float64(t.UnixMilli()%977)) * base * 0.0005
	return math.Round((base+drift+jitter)*100) / 100
}

func (f *StaticFeed) Quote(ctx context.Context, symbol string) (*wire.Quote, error) {
	sym := strings.ToUpper(symbol)
	if _, ok := f.catalog.symbols[sym]; !ok {
		return nil, ErrUnknownSymbol
	}
	t := f.now()
	last := priceAt(sym, t)
	if f.overrides != nil {
		if v, ok := f.overrides.Price(sym); ok {
			last = v
		}
	}
	spread := math.Max(0.01, math.Round(last*0.0005*100)/100)
	return &wire.Quote{
		Symbol:  sym,
		Bid:     math.Round((last-spread)*100) / 100,
		Ask:     math.Round((last+spread)*100) / 100,
		Last:    last,
		Volume:  int64(basePrice(sym)*1000) + t.Unix()%100000,
		AtMilli: t.UnixMilli(),
	}, nil
}

var intervalDurations = map[string]time.Duration{
	"1m": time.Minute,
	"5m": 5 * time.Minute,
	"1h": time.Hour,
	"1d": 24 * time.Hour,
}

func (f *StaticFeed) Candles(ctx context.Context, symbol, interval string, limit int) (*wire.CandlesResult, error) {
	sym := strings.ToUpper(symbol)
	if _, ok := f.catalog.symbols[sym]; !ok {
		return nil, ErrUnknownSymbol
	}
	if interval == "" {
		interval = "1m"
	}
	step, ok := intervalDurations[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > 500 {
		limit = 500
	}

	end := f.now().Truncate(step)
	candles := make([]wire.Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		open := end.Add(-time.Duration(i+1) * step)
		o := priceAt(sym, open)
		c := priceAt(sym, open.Add(step))
		hi := math.Max(o, c) * 1.001
		lo := math.Min(o, c) * 0.999
		candles = append(candles, wire.Candle{
			OpenMilli: open.UnixMilli(),
			Open:      o,
			High:      math.Round(hi*100) / 100,
			Low:       math.Round(lo*100) / 100,
			Close:     c,
			Volume:    int64(basePrice(sym)*100) + open.Unix()%10000,
		})
	}
	return &wire.CandlesResult{Symbol: sym, Interval: interval, Candles: candles}, nil
}

func (f *StaticFeed) Symbols(ctx context.Context) ([]wire.SymbolInfo, error) {
	syms := f.catalog.Symbols()
	sort.Slice(syms, func(i, j int) bool { return syms[i].Symbol < syms[j].Symbol })
	return syms, nil
}

func (f *StaticFeed) Accounts(ctx context.Context, userID string) ([]wire.Account, error) {
	// Two mock accounts per principal, ids derived from the user so repeat
	// calls agree.
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	seed := h.Sum32()
	cash := 1000 + float64(seed%90000)/10
	return []wire.Account{
		{
			ID:       fmtAccountID(userID, "brokerage"),
			Name:     "Individual Brokerage",
			Currency: "USD",
			Cash:     math.Round(cash*100) / 100,
			Equity:   math.Round(cash*4.2*100) / 100,
		},
		{
			ID:       fmtAccountID(userID, "retirement"),
			Name:     "Retirement",
			Currency: "USD",
			Cash:     math.Round(cash*0.3*100) / 100,
			Equity:   math.Round(cash*9.7*100) / 100,
		},
	}, nil
}

func (f *StaticFeed) Positions(ctx context.Context, userID, accountID string) (*wire.PositionsResult, error) {
	accounts, err := f.Accounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	known := false
	for _, a := range accounts {
		if a.ID == accountID {
			known = true
			break
		}
	}
	if !known {
		return nil, ErrUnknownAccount
	}

	syms, _ := f.Symbols(ctx)
	t := f.now()
	positions := make([]wire.Position, 0, 3)
	for i, s := range syms {
		if i >= 3 {
			break
		}
		px := priceAt(s.Symbol, t)
		qty := float64(10 * (i + 1))
		positions = append(positions, wire.Position{
			Symbol:   s.Symbol,
			Quantity: qty,
			AvgPrice: math.Round(px*0.92*100) / 100,
			Value:    math.Round(px*qty*100) / 100,
		})
	}
	return &wire.PositionsResult{AccountID: accountID, Positions: positions}, nil
}

func fmtAccountID(userID, kind string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID + "/" + kind))
	return fmt.Sprintf("acct-%016x", h.Sum64())
}
