package feed

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/marketmux/marketmux/wire"
)

// MethodDescriptor documents one RPC method: its name and the JSON Schema of
// its params object, reflected from the wire types so the two cannot drift.
type MethodDescriptor struct {
	Method      wire.Method     `json:"method"`
	Description string          `json:"description,omitempty"`
	Params      json.RawMessage `json:"paramsSchema,omitempty"`
}

func reflectSchema[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := r.Reflect(&zero)
	b, err := json.Marshal(schema)
	if err != nil {
		// Reflection over our own static types; a failure here is a
		// programming error caught by the descriptor test.
		panic(err)
	}
	return b
}

// Descriptors enumerates the callable data methods. Session and subscription
// methods are excluded; they are protocol surface, not capability surface.
func Descriptors() []MethodDescriptor {
	return []MethodDescriptor{
		{
			Method:      wire.MarketQuoteMethod,
			Description: "Point-in-time quote for one symbol.",
			Params:      reflectSchema[wire.QuoteRequest](),
		},
		{
			Method:      wire.MarketCandlesMethod,
			Description: "Recent OHLC bars for one symbol.",
			Params:      reflectSchema[wire.CandlesRequest](),
		},
		{
			Method:      wire.MarketSymbolsMethod,
			Description: "Streamable symbol catalog.",
		},
		{
			Method:      wire.AccountsListMethod,
			Description: "Mock accounts owned by the caller.",
		},
		{
			Method:      wire.AccountsPositionsMethod,
			Description: "Holdings within one account.",
			Params:      reflectSchema[wire.PositionsRequest](),
		},
	}
}
