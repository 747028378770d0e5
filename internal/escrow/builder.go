package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rentrails/internal/keyring"
	"rentrails/internal/ledger"
)

// BuilderConfig carries the envelope parameters and the retry budget.
type BuilderConfig struct {
	// BaseFee is charged per operation; an envelope's fee is BaseFee times
	// its operation count.
	BaseFee ledger.Amount
	// ValidityWindow bounds how long a built envelope stays submittable.
	ValidityWindow time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.ValidityWindow <= 0 {
		c.ValidityWindow = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	return c
}

// Plan describes one transaction to assemble, sign, and submit.
type Plan struct {
	Source     string
	Operations []ledger.Operation
	// Signers are the identities asked to sign; Required, when set, is
	// checked against the produced signatures before anything is broadcast.
	Signers  []string
	Required *SignerSet
}

// Builder assembles envelopes and owns the per-account sequence cache, the
// core's only state between calls. Each source account is a serialization
// domain: at most one envelope per source is in flight at any time.
type Builder struct {
	client ledger.Client
	cfg    BuilderConfig
	log    zerolog.Logger

	mu      sync.Mutex
	sources map[string]*sourceState
}

type sourceState struct {
	mu    sync.Mutex
	seq   int64
	known bool
}

func NewBuilder(client ledger.Client, cfg BuilderConfig, log zerolog.Logger) *Builder {
	return &Builder{
		client:  client,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "builder").Logger(),
		sources: make(map[string]*sourceState),
	}
}

func (b *Builder) source(address string) *sourceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.sources[address]
	if !ok {
		st = &sourceState{}
		b.sources[address] = st
	}
	return st
}

// Submit builds, signs, and submits the plan, retrying sequence conflicts
// from a freshly loaded sequence number and expiries with a fresh validity
// window, up to the attempt budget. A stale envelope is never resubmitted
// verbatim. All other errors surface immediately.
func (b *Builder) Submit(ctx context.Context, plan Plan, provider keyring.Provider) (*ledger.Receipt, error) {
	st := b.source(plan.Source)
	st.mu.Lock()
	defer st.mu.Unlock()

	backoff := b.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		seq, err := b.sequence(ctx, st, plan.Source)
		if err != nil {
			return nil, err
		}

		env := &ledger.Envelope{
			Source:     plan.Source,
			Sequence:   seq + 1,
			Fee:        b.cfg.BaseFee.MulRaw(int64(len(plan.Operations))),
			ValidUntil: time.Now().Add(b.cfg.ValidityWindow),
			Operations: plan.Operations,
		}

		signed, err := provider.Sign(ctx, env, plan.Signers)
		if err != nil {
			if errors.Is(err, keyring.ErrUnknownSigner) {
				return nil, fmt.Errorf("%w: %v", ledger.ErrSignatureThreshold, err)
			}
			return nil, fmt.Errorf("sign envelope from %s: %w", plan.Source, err)
		}
		if plan.Required != nil && !plan.Required.Satisfied(signed.SignedBy()) {
			return nil, fmt.Errorf("envelope from %s is missing co-signatures: %w",
				plan.Source, ledger.ErrSignatureThreshold)
		}

		// An abort before broadcast is free of side effects.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		receipt, err := b.client.SubmitTransaction(ctx, signed)
		if err == nil {
			st.seq = env.Sequence
			st.known = true
			return receipt, nil
		}
		if !ledger.IsRetryable(err) || attempt == b.cfg.MaxAttempts {
			return nil, err
		}
		lastErr = err

		if errors.Is(err, ledger.ErrSequenceConflict) {
			// Another submitter moved the account; the cached number is stale.
			st.known = false
		}
		b.log.Warn().Err(err).Str("source", plan.Source).Int("attempt", attempt).
			Msg("rebuilding envelope after retryable submission failure")

		sleep := backoff
		if b.cfg.MaxBackoff > 0 && sleep > b.cfg.MaxBackoff {
			sleep = b.cfg.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("submit from %s: retry budget exhausted: %w", plan.Source, lastErr)
}

// sequence returns the source's current sequence number, reading from the
// ledger only when the cache was never filled or was invalidated by a
// conflict.
func (b *Builder) sequence(ctx context.Context, st *sourceState, address string) (int64, error) {
	if st.known {
		return st.seq, nil
	}
	account, err := b.client.LoadAccount(ctx, address)
	if err != nil {
		return 0, err
	}
	st.seq = account.Sequence
	st.known = true
	return st.seq, nil
}
