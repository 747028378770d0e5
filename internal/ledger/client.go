package ledger

import "context"

// Client is the capability the core holds against the ledger network: load
// account state, submit signed envelopes. Implementations are injected; the
// core never owns network credentials.
type Client interface {
	LoadAccount(ctx context.Context, address string) (*Account, error)
	SubmitTransaction(ctx context.Context, env *SignedEnvelope) (*Receipt, error)
}

// HealthChecker is optionally implemented by clients that can probe their
// gateway.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
