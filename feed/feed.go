// Package feed supplies the capability collaborators behind the RPC surface:
// mock market-data and account generators, the fixed catalog of streamable
// feed URIs, and self-describing method descriptors. The engine consumes
// these through narrow interfaces and never reaches into generator internals.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketmux/marketmux/wire"
)

// FeedURIPrefix is the scheme+authority prefix of every streamable feed URI.
const FeedURIPrefix = "stream://market/"

// URIFor returns the feed URI for a ticker symbol.
func URIFor(symbol string) string {
	return FeedURIPrefix + strings.ToUpper(symbol)
}

// QuoteProvider produces point-in-time market data snapshots. Implementations
// must be safe for concurrent use; a snapshot call runs on every subscription
// tick.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (*wire.Quote, error)
	Candles(ctx context.Context, symbol, interval string, limit int) (*wire.CandlesResult, error)
	Symbols(ctx context.Context) ([]wire.SymbolInfo, error)
}

// AccountProvider produces mock account data scoped to a principal.
type AccountProvider interface {
	Accounts(ctx context.Context, userID string) ([]wire.Account, error)
	Positions(ctx context.Context, userID, accountID string) (*wire.PositionsResult, error)
}

// ErrUnknownSymbol indicates a symbol outside the catalog.
var ErrUnknownSymbol = fmt.Errorf("unknown symbol")

// ErrUnknownAccount indicates an account id that does not belong to the caller.
var ErrUnknownAccount = fmt.Errorf("unknown account")

// Catalog is the fixed allow-list of streamable feed URIs. Subscribe requests
// are checked against it; nothing outside the catalog can be made recurring.
type Catalog struct {
	symbols map[string]string // upper symbol -> display name
}

// NewCatalog builds a catalog from symbol -> display-name pairs.
func NewCatalog(symbols map[string]string) *Catalog {
	up := make(map[string]string, len(symbols))
	for s, name := range symbols {
		up[strings.ToUpper(s)] = name
	}
	return &Catalog{symbols: up}
}

// Streamable reports whether uri names a feed in the allow-list.
func (c *Catalog) Streamable(uri string) bool {
	_, ok := c.SymbolForURI(uri)
	return ok
}

// SymbolForURI extracts the catalog symbol a feed URI refers to.
func (c *Catalog) SymbolForURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, FeedURIPrefix)
	if !ok || rest == "" || strings.ContainsAny(rest, "/?#") {
		return "", false
	}
	sym := strings.ToUpper(rest)
	if _, known := c.symbols[sym]; !known {
		return "", false
	}
	return sym, true
}

// Symbols returns the catalog contents in unspecified order.
func (c *Catalog) Symbols() []wire.SymbolInfo {
	out := make([]wire.SymbolInfo, 0, len(c.symbols))
	for sym, name := range c.symbols {
		out = append(out, wire.SymbolInfo{Symbol: sym, Name: name, FeedURI: URIFor(sym)})
	}
	return out
}

// Len returns the number of streamable feeds.
func (c *Catalog) Len() int { return len(c.symbols) }

// DefaultCatalog covers a handful of liquid large caps, enough for demos and
// tests.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[string]string{
		"AAPL": "Apple Inc.",
		"MSFT": "Microsoft Corporation",
		"GOOG": "Alphabet Inc.",
		"AMZN": "Amazon.com, Inc.",
		"NVDA": "NVIDIA Corporation",
		"TSLA": "Tesla, Inc.",
	})
}
