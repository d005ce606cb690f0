package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/marketmux/marketmux/feed"
	"github.com/marketmux/marketmux/internal/jsonrpc"
	"github.com/marketmux/marketmux/wire"
)

func (e *Engine) handlePing(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return jsonrpc.NewResultResponse(req.ID, &wire.EmptyResult{})
}

func (e *Engine) handleFeedsSubscribe(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params wire.SubscribeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	symbol, ok := e.catalog.SymbolForURI(params.URI)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeNotStreamable, "uri is not streamable", map[string]string{"uri": params.URI}), nil
	}

	if err := e.subscribe(ctx, sess.rec, params.URI, symbol); err != nil {
		if errors.Is(err, errSessionClosed) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeSessionNotFound, "session not found", nil), nil
		}
		return nil, err
	}

	// The ack is empty on purpose: payloads only ever arrive asynchronously
	// over the bound stream.
	return jsonrpc.NewResultResponse(req.ID, &wire.EmptyResult{})
}

func (e *Engine) handleFeedsUnsubscribe(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params wire.UnsubscribeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	// Idempotent: unsubscribing a URI that was never subscribed is a no-op.
	e.unsubscribe(sess.rec, params.URI)
	return jsonrpc.NewResultResponse(req.ID, &wire.EmptyResult{})
}

func (e *Engine) handleMarketQuote(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params wire.QuoteRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Symbol == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	q, err := e.quotes.Quote(ctx, params.Symbol)
	if err != nil {
		if errors.Is(err, feed.ErrUnknownSymbol) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "unknown symbol", map[string]string{"symbol": params.Symbol}), nil
		}
		return nil, err
	}
	return jsonrpc.NewResultResponse(req.ID, q)
}

func (e *Engine) handleMarketCandles(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params wire.CandlesRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Symbol == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	res, err := e.quotes.Candles(ctx, params.Symbol, params.Interval, params.Limit)
	if err != nil {
		if errors.Is(err, feed.ErrUnknownSymbol) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "unknown symbol", map[string]string{"symbol": params.Symbol}), nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleMarketSymbols(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	symbols, err := e.quotes.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	return jsonrpc.NewResultResponse(req.ID, &wire.SymbolsResult{Symbols: symbols})
}

func (e *Engine) handleMarketDescribe(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return jsonrpc.NewResultResponse(req.ID, &struct {
		Methods []feed.MethodDescriptor `json:"methods"`
	}{Methods: feed.Descriptors()})
}

func (e *Engine) handleAccountsList(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	accounts, err := e.accounts.Accounts(ctx, sess.UserID())
	if err != nil {
		return nil, err
	}
	return jsonrpc.NewResultResponse(req.ID, &wire.AccountsListResult{Accounts: accounts})
}

func (e *Engine) handleAccountsPositions(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params wire.PositionsRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.AccountID == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	res, err := e.accounts.Positions(ctx, sess.UserID(), params.AccountID)
	if err != nil {
		if errors.Is(err, feed.ErrUnknownAccount) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "unknown account", map[string]string{"accountId": params.AccountID}), nil
		}
		return nil, err
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}
