// Package wire defines the method names and message payloads of the
// marketmux RPC protocol. Messages travel as JSON-RPC 2.0 envelopes (see
// internal/jsonrpc); this package owns only the protocol-level vocabulary.
package wire

// Method is a marketmux method identifier carried in the JSON-RPC envelope.
type Method string

const (
	// Session establishment.
	InitializeMethod Method = "initialize"

	// Feed subscriptions.
	FeedsSubscribeMethod   Method = "feeds/subscribe"
	FeedsUnsubscribeMethod Method = "feeds/unsubscribe"

	// Market data.
	MarketQuoteMethod    Method = "market/quote"
	MarketCandlesMethod  Method = "market/candles"
	MarketSymbolsMethod  Method = "market/symbols"
	MarketDescribeMethod Method = "market/describe"

	// Accounts.
	AccountsListMethod      Method = "accounts/list"
	AccountsPositionsMethod Method = "accounts/positions"

	// General.
	PingMethod Method = "ping"

	// Server → client push.
	FeedUpdatedNotificationMethod Method = "notifications/feed/updated"
)

// InitializeRequest opens a new session.
type InitializeRequest struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitzero"`
}

// InitializeResult returns server identity and the streamable catalog size.
// The session id itself travels out-of-band in the Mm-Session-Id header.
type InitializeResult struct {
	ServerInfo ServerInfo `json:"serverInfo"`
	FeedCount  int        `json:"feedCount"`
}

// ServerInfo identifies the server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitzero"`
}

// SubscribeRequest asks for recurring updates for one feed URI.
type SubscribeRequest struct {
	URI string `json:"uri"`
}

// UnsubscribeRequest stops recurring updates for one feed URI.
type UnsubscribeRequest struct {
	URI string `json:"uri"`
}

// EmptyResult is the acknowledgment body for subscribe/unsubscribe/ping.
type EmptyResult struct{}

// FeedUpdatedNotification is the one-way push carrying a fresh payload for a
// subscribed feed URI.
type FeedUpdatedNotification struct {
	URI     string `json:"uri"`
	Quote   *Quote `json:"quote,omitempty"`
	Seq     uint64 `json:"seq"`
	AtMilli int64  `json:"at"`
}

// QuoteRequest fetches a one-shot quote for a symbol.
type QuoteRequest struct {
	Symbol string `json:"symbol" jsonschema:"minLength=1,description=Ticker symbol (e.g. AAPL)"`
}

// Quote is a point-in-time price snapshot for one symbol.
type Quote struct {
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Last    float64 `json:"last"`
	Volume  int64   `json:"volume"`
	AtMilli int64   `json:"at"`
}

// CandlesRequest fetches recent OHLC bars for a symbol.
type CandlesRequest struct {
	Symbol   string `json:"symbol" jsonschema:"minLength=1,description=Ticker symbol"`
	Interval string `json:"interval,omitzero" jsonschema:"description=Bar interval: 1m / 5m / 1h / 1d,default=1m"`
	Limit    int    `json:"limit,omitzero" jsonschema:"maximum=500,description=Number of bars (default 30)"`
}

// Candle is a single OHLC bar.
type Candle struct {
	OpenMilli int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    int64   `json:"v"`
}

// CandlesResult is the bar series response.
type CandlesResult struct {
	Symbol   string   `json:"symbol"`
	Interval string   `json:"interval"`
	Candles  []Candle `json:"candles"`
}

// SymbolsResult lists the symbols the server can quote, with their feed URIs.
type SymbolsResult struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one quotable symbol.
type SymbolInfo struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name,omitzero"`
	FeedURI string `json:"feedUri"`
}

// AccountsListResult enumerates the caller's mock accounts.
type AccountsListResult struct {
	Accounts []Account `json:"accounts"`
}

// Account is a mock brokerage account summary.
type Account struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Currency string  `json:"currency"`
	Cash     float64 `json:"cash"`
	Equity   float64 `json:"equity"`
}

// PositionsRequest fetches positions for one account.
type PositionsRequest struct {
	AccountID string `json:"accountId" jsonschema:"minLength=1,description=Account identifier from accounts/list"`
}

// Position is one holding within an account.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avgPrice"`
	Value    float64 `json:"value"`
}

// PositionsResult is the holdings response.
type PositionsResult struct {
	AccountID string     `json:"accountId"`
	Positions []Position `json:"positions"`
}
