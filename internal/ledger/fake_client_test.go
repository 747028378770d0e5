package ledger_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rentrails/internal/ledger"
)

type testAccount struct {
	address string
	key     ed25519.PrivateKey
}

func newTestAccount(t *testing.T) testAccount {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testAccount{address: ledger.AddressFromPubKey(pub), key: priv}
}

func (a testAccount) sign(env *ledger.Envelope) ledger.Signature {
	digest := env.HashBytes()
	return ledger.Signature{Signer: a.address, Signature: ed25519.Sign(a.key, digest[:])}
}

func escrowEnvelope(owner, renter testAccount, escrowAddress string, reserve ledger.Amount, seq int64) *ledger.Envelope {
	var masterOff, one uint32 = 0, 1
	var two uint32 = 2
	return &ledger.Envelope{
		Source:     owner.address,
		Sequence:   seq,
		Fee:        ledger.ZeroAmount(),
		ValidUntil: time.Now().Add(time.Minute),
		Operations: []ledger.Operation{
			ledger.NewCreateAccountOp(escrowAddress, reserve),
			{
				Kind:         ledger.OpSetOptions,
				Target:       escrowAddress,
				MasterWeight: &masterOff,
				Signer:       &ledger.Signer{Address: owner.address, Weight: one},
			},
			{
				Kind:            ledger.OpSetOptions,
				Target:          escrowAddress,
				Signer:          &ledger.Signer{Address: renter.address, Weight: one},
				LowThreshold:    &two,
				MediumThreshold: &two,
				HighThreshold:   &two,
			},
		},
	}
}

func TestFakeClientCreatesCoSignedEscrow(t *testing.T) {
	ctx := context.Background()
	owner := newTestAccount(t)
	renter := newTestAccount(t)

	fake := ledger.NewFakeClient()
	fake.Register(owner.address, ledger.MustParseAmount("10"))

	escrowAcct := newTestAccount(t)
	env := escrowEnvelope(owner, renter, escrowAcct.address, ledger.MustParseAmount("2"), 1)
	signed := &ledger.SignedEnvelope{Envelope: env, Signatures: []ledger.Signature{owner.sign(env)}}

	receipt, err := fake.SubmitTransaction(ctx, signed)
	require.NoError(t, err)
	require.True(t, receipt.Successful)
	require.Equal(t, env.Hash(), receipt.Hash)

	created, err := fake.LoadAccount(ctx, escrowAcct.address)
	require.NoError(t, err)
	require.Equal(t, uint32(0), created.MasterWeight)
	require.Equal(t, ledger.Thresholds{Low: 2, Medium: 2, High: 2}, created.Thresholds)
	require.Equal(t, uint32(1), created.SignerWeight(owner.address))
	require.Equal(t, uint32(1), created.SignerWeight(renter.address))
	require.Equal(t, "2.0000000", created.NativeBalance().String())

	ownerAcct, err := fake.LoadAccount(ctx, owner.address)
	require.NoError(t, err)
	require.Equal(t, "8.0000000", ownerAcct.NativeBalance().String())
	require.Equal(t, int64(1), ownerAcct.Sequence)
}

func TestFakeClientRejectsStaleSequence(t *testing.T) {
	ctx := context.Background()
	owner := newTestAccount(t)
	renter := newTestAccount(t)

	fake := ledger.NewFakeClient()
	fake.Register(owner.address, ledger.MustParseAmount("10"))
	fake.Register(renter.address, ledger.MustParseAmount("10"))

	env := &ledger.Envelope{
		Source:     owner.address,
		Sequence:   5, // account sits at 0
		Fee:        ledger.ZeroAmount(),
		ValidUntil: time.Now().Add(time.Minute),
		Operations: []ledger.Operation{ledger.NewPaymentOp(renter.address, ledger.MustParseAmount("1"))},
	}
	signed := &ledger.SignedEnvelope{Envelope: env, Signatures: []ledger.Signature{owner.sign(env)}}

	_, err := fake.SubmitTransaction(ctx, signed)
	require.ErrorIs(t, err, ledger.ErrSequenceConflict)
}

func TestFakeClientEnforcesEscrowThreshold(t *testing.T) {
	ctx := context.Background()
	owner := newTestAccount(t)
	renter := newTestAccount(t)
	escrowAcct := newTestAccount(t)

	fake := ledger.NewFakeClient()
	fake.Register(owner.address, ledger.MustParseAmount("10"))
	fake.Register(renter.address, ledger.MustParseAmount("10"))

	create := escrowEnvelope(owner, renter, escrowAcct.address, ledger.MustParseAmount("2"), 1)
	_, err := fake.SubmitTransaction(ctx, &ledger.SignedEnvelope{
		Envelope: create, Signatures: []ledger.Signature{owner.sign(create)},
	})
	require.NoError(t, err)

	release := &ledger.Envelope{
		Source:     escrowAcct.address,
		Sequence:   1,
		Fee:        ledger.ZeroAmount(),
		ValidUntil: time.Now().Add(time.Minute),
		Operations: []ledger.Operation{
			ledger.NewPaymentOp(owner.address, ledger.MustParseAmount("1")),
			ledger.NewAccountMergeOp(owner.address),
		},
	}

	// Owner alone: weight 1 of required 2. Nothing may execute, not even
	// partially.
	_, err = fake.SubmitTransaction(ctx, &ledger.SignedEnvelope{
		Envelope: release, Signatures: []ledger.Signature{owner.sign(release)},
	})
	require.ErrorIs(t, err, ledger.ErrSignatureThreshold)

	untouched, err := fake.LoadAccount(ctx, escrowAcct.address)
	require.NoError(t, err)
	require.Equal(t, "2.0000000", untouched.NativeBalance().String())

	// The escrow's own key has no authority either: master weight is 0.
	_, err = fake.SubmitTransaction(ctx, &ledger.SignedEnvelope{
		Envelope: release, Signatures: []ledger.Signature{escrowAcct.sign(release)},
	})
	require.ErrorIs(t, err, ledger.ErrSignatureThreshold)

	// Both co-signers: the release commits and the account merges away.
	_, err = fake.SubmitTransaction(ctx, &ledger.SignedEnvelope{
		Envelope: release, Signatures: []ledger.Signature{owner.sign(release), renter.sign(release)},
	})
	require.NoError(t, err)

	_, err = fake.LoadAccount(ctx, escrowAcct.address)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestFakeClientAppliesAtomically(t *testing.T) {
	ctx := context.Background()
	owner := newTestAccount(t)
	renter := newTestAccount(t)

	fake := ledger.NewFakeClient()
	fake.Register(owner.address, ledger.MustParseAmount("10"))
	fake.Register(renter.address, ledger.MustParseAmount("10"))

	env := &ledger.Envelope{
		Source:     owner.address,
		Sequence:   1,
		Fee:        ledger.ZeroAmount(),
		ValidUntil: time.Now().Add(time.Minute),
		Operations: []ledger.Operation{
			ledger.NewPaymentOp(renter.address, ledger.MustParseAmount("3")),
			ledger.NewPaymentOp("nonexistent-destination", ledger.MustParseAmount("1")),
		},
	}
	_, err := fake.SubmitTransaction(ctx, &ledger.SignedEnvelope{
		Envelope: env, Signatures: []ledger.Signature{owner.sign(env)},
	})
	require.Error(t, err)

	// The first payment must not have leaked through.
	ownerAcct, err := fake.LoadAccount(ctx, owner.address)
	require.NoError(t, err)
	require.Equal(t, "10.0000000", ownerAcct.NativeBalance().String())
	require.Equal(t, int64(0), ownerAcct.Sequence)
}

func TestFakeClientRejectsExpiredEnvelope(t *testing.T) {
	ctx := context.Background()
	owner := newTestAccount(t)
	renter := newTestAccount(t)

	fake := ledger.NewFakeClient()
	fake.Register(owner.address, ledger.MustParseAmount("10"))
	fake.Register(renter.address, ledger.MustParseAmount("10"))
	fake.SetNow(func() time.Time { return time.Now().Add(time.Hour) })

	env := &ledger.Envelope{
		Source:     owner.address,
		Sequence:   1,
		Fee:        ledger.ZeroAmount(),
		ValidUntil: time.Now().Add(time.Minute),
		Operations: []ledger.Operation{ledger.NewPaymentOp(renter.address, ledger.MustParseAmount("1"))},
	}
	_, err := fake.SubmitTransaction(ctx, &ledger.SignedEnvelope{
		Envelope: env, Signatures: []ledger.Signature{owner.sign(env)},
	})
	require.ErrorIs(t, err, ledger.ErrTransactionExpired)
}
