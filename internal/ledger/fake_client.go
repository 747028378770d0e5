package ledger

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory ledger honoring the real submission rules:
// sequence ordering, signature weights against thresholds, validity windows,
// balance checks, and all-or-nothing application of an envelope's operations.
// It backs tests and local development, the same role the fake escrow client
// plays in production-less environments.
type FakeClient struct {
	mu          sync.Mutex
	accounts    map[string]*Account
	height      int64
	submissions int
	now         func() time.Time
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		accounts: make(map[string]*Account),
		now:      time.Now,
	}
}

// SetNow overrides the clock used for validity-window checks.
func (f *FakeClient) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Register seeds a funded root account with master weight 1 and zero
// thresholds, the state a freshly created ledger account has.
func (f *FakeClient) Register(address string, balance Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = &Account{
		Address:      address,
		MasterWeight: 1,
		Balances:     []Balance{{Asset: NativeAsset, Amount: balance}},
	}
}

// Submissions counts every SubmitTransaction call, accepted or not.
func (f *FakeClient) Submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions
}

func (f *FakeClient) LoadAccount(_ context.Context, address string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("load account %s: %w", address, ErrAccountNotFound)
	}
	return cloneAccount(acct), nil
}

func (f *FakeClient) SubmitTransaction(_ context.Context, signed *SignedEnvelope) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions++

	env := signed.Envelope
	if f.now().After(env.ValidUntil) {
		return nil, ErrTransactionExpired
	}
	src, ok := f.accounts[env.Source]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", env.Source, ErrAccountNotFound)
	}
	if env.Sequence != src.Sequence+1 {
		return nil, fmt.Errorf("source %s at sequence %d, envelope carries %d: %w",
			env.Source, src.Sequence, env.Sequence, ErrSequenceConflict)
	}
	if err := f.checkThreshold(src, signed); err != nil {
		return nil, err
	}

	// Apply against a copy so a failing operation leaves no trace.
	next := make(map[string]*Account, len(f.accounts))
	for addr, acct := range f.accounts {
		next[addr] = cloneAccount(acct)
	}
	if err := applyEnvelope(next, env); err != nil {
		return nil, err
	}
	if acct, ok := next[env.Source]; ok {
		acct.Sequence = env.Sequence
	}
	f.accounts = next
	f.height++

	return &Receipt{Hash: env.Hash(), Ledger: f.height, Successful: true}, nil
}

func (f *FakeClient) Ping(context.Context) error { return nil }

// checkThreshold verifies the envelope's signatures against the source
// account and sums the weights of the distinct valid signers.
func (f *FakeClient) checkThreshold(src *Account, signed *SignedEnvelope) error {
	digest := signed.Envelope.HashBytes()
	required := requiredWeight(src, signed.Envelope.Operations)

	var weight uint32
	seen := make(map[string]bool)
	for _, sig := range signed.Signatures {
		if seen[sig.Signer] {
			continue
		}
		pub, err := DecodeAddress(sig.Signer)
		if err != nil {
			continue
		}
		if !ed25519.Verify(pub, digest[:], sig.Signature) {
			continue
		}
		seen[sig.Signer] = true
		weight += src.SignerWeight(sig.Signer)
	}
	if weight < required {
		return fmt.Errorf("source %s requires weight %d, signatures carry %d: %w",
			src.Address, required, weight, ErrSignatureThreshold)
	}
	return nil
}

// requiredWeight picks the highest threshold class the envelope touches.
// Signer and merge changes are high, everything else medium; at least one
// valid signature is always required.
func requiredWeight(src *Account, ops []Operation) uint32 {
	required := src.Thresholds.Medium
	for _, op := range ops {
		if op.Kind == OpSetOptions || op.Kind == OpAccountMerge {
			if src.Thresholds.High > required {
				required = src.Thresholds.High
			}
		}
	}
	if required == 0 {
		required = 1
	}
	return required
}

func applyEnvelope(accounts map[string]*Account, env *Envelope) error {
	src := accounts[env.Source]
	if err := deductNative(src, env.Fee); err != nil {
		return err
	}

	created := make(map[string]bool)
	for _, op := range env.Operations {
		if _, alive := accounts[env.Source]; !alive {
			return &SubmissionError{Code: "op_after_merge", Message: "source was merged away by an earlier operation"}
		}
		src = accounts[env.Source]

		switch op.Kind {
		case OpCreateAccount:
			if _, exists := accounts[op.Destination]; exists {
				return &SubmissionError{Code: "op_already_exists", Message: "destination account already exists"}
			}
			if err := deductNative(src, op.Amount); err != nil {
				return err
			}
			accounts[op.Destination] = &Account{
				Address:      op.Destination,
				MasterWeight: 1,
				Balances:     []Balance{{Asset: NativeAsset, Amount: op.Amount}},
			}
			created[op.Destination] = true

		case OpPayment:
			if op.Amount.IsZero() || op.Amount.IsNegative() {
				return &SubmissionError{Code: "op_malformed", Message: "payment amount must be positive"}
			}
			dest, ok := accounts[op.Destination]
			if !ok {
				return fmt.Errorf("payment destination %s: %w", op.Destination, ErrAccountNotFound)
			}
			if err := deductNative(src, op.Amount); err != nil {
				return err
			}
			addNative(dest, op.Amount)

		case OpSetOptions:
			if op.Target != env.Source && !created[op.Target] {
				return &SubmissionError{Code: "op_not_allowed", Message: "set_options target is neither the source nor created in this envelope"}
			}
			target, ok := accounts[op.Target]
			if !ok {
				return fmt.Errorf("set_options target %s: %w", op.Target, ErrAccountNotFound)
			}
			applySetOptions(target, op)

		case OpAccountMerge:
			dest, ok := accounts[op.Destination]
			if !ok {
				return fmt.Errorf("merge destination %s: %w", op.Destination, ErrAccountNotFound)
			}
			addNative(dest, src.NativeBalance())
			delete(accounts, env.Source)

		default:
			return &SubmissionError{Code: "op_unknown", Message: string(op.Kind)}
		}
	}
	return nil
}

func applySetOptions(target *Account, op Operation) {
	if op.MasterWeight != nil {
		target.MasterWeight = *op.MasterWeight
	}
	if op.Signer != nil {
		replaced := false
		for i := range target.Signers {
			if target.Signers[i].Address == op.Signer.Address {
				target.Signers[i].Weight = op.Signer.Weight
				replaced = true
			}
		}
		if !replaced {
			target.Signers = append(target.Signers, *op.Signer)
		}
	}
	if op.LowThreshold != nil {
		target.Thresholds.Low = *op.LowThreshold
	}
	if op.MediumThreshold != nil {
		target.Thresholds.Medium = *op.MediumThreshold
	}
	if op.HighThreshold != nil {
		target.Thresholds.High = *op.HighThreshold
	}
}

func deductNative(acct *Account, amount Amount) error {
	if amount.IsZero() {
		return nil
	}
	have := acct.NativeBalance()
	if have.LT(amount) {
		return fmt.Errorf("account %s holds %s, needs %s: %w",
			acct.Address, have, amount, ErrInsufficientBalance)
	}
	setNative(acct, have.Sub(amount))
	return nil
}

func addNative(acct *Account, amount Amount) {
	setNative(acct, acct.NativeBalance().Add(amount))
}

func setNative(acct *Account, amount Amount) {
	for i := range acct.Balances {
		if acct.Balances[i].Asset == NativeAsset {
			acct.Balances[i].Amount = amount
			return
		}
	}
	acct.Balances = append(acct.Balances, Balance{Asset: NativeAsset, Amount: amount})
}

func cloneAccount(a *Account) *Account {
	cp := *a
	cp.Signers = append([]Signer(nil), a.Signers...)
	cp.Balances = append([]Balance(nil), a.Balances...)
	return &cp
}
