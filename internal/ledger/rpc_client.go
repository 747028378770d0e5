package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AccumulateNetwork/jsonrpc2/v15"
)

// Gateway error codes. The gateway maps ledger result codes onto the
// JSON-RPC error space; everything outside this block surfaces as a
// SubmissionError.
const (
	codeAccountNotFound     = -32201
	codeInsufficientBalance = -32202
	codeSequenceConflict    = -32203
	codeSignatureThreshold  = -32204
	codeTransactionExpired  = -32205
)

// RPCClient talks to a ledger gateway over JSON-RPC.
type RPCClient struct {
	endpoint string
	rpc      jsonrpc2.Client
}

func NewRPCClient(endpoint string, timeout time.Duration) (*RPCClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ledger gateway endpoint is required")
	}
	c := &RPCClient{endpoint: endpoint}
	c.rpc.Timeout = timeout
	return c, nil
}

type accountQuery struct {
	Address string `json:"address"`
}

func (c *RPCClient) LoadAccount(ctx context.Context, address string) (*Account, error) {
	account := new(Account)
	if err := c.rpc.Request(ctx, c.endpoint, "account", accountQuery{Address: address}, account); err != nil {
		return nil, fmt.Errorf("load account %s: %w", address, mapGatewayError(err))
	}
	return account, nil
}

func (c *RPCClient) SubmitTransaction(ctx context.Context, env *SignedEnvelope) (*Receipt, error) {
	receipt := new(Receipt)
	if err := c.rpc.Request(ctx, c.endpoint, "submit", env, receipt); err != nil {
		return nil, fmt.Errorf("submit from %s: %w", env.Envelope.Source, mapGatewayError(err))
	}
	return receipt, nil
}

func (c *RPCClient) Ping(ctx context.Context) error {
	var res json.RawMessage
	return c.rpc.Request(ctx, c.endpoint, "ping", nil, &res)
}

func mapGatewayError(err error) error {
	var rpcErr jsonrpc2.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch int(rpcErr.Code) {
	case codeAccountNotFound:
		return ErrAccountNotFound
	case codeInsufficientBalance:
		return ErrInsufficientBalance
	case codeSequenceConflict:
		return ErrSequenceConflict
	case codeSignatureThreshold:
		return ErrSignatureThreshold
	case codeTransactionExpired:
		return ErrTransactionExpired
	default:
		return &SubmissionError{Code: fmt.Sprintf("%d", int(rpcErr.Code)), Message: rpcErr.Message}
	}
}
