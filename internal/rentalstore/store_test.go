package rentalstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rentrails/internal/escrow"
	"rentrails/internal/ledger"
)

func sampleAgreement(id string) *escrow.RentalAgreement {
	ratio, err := escrow.NewSplitRatio("0.5", "0.5")
	if err != nil {
		panic(err)
	}
	now := time.Now().UTC()
	return &escrow.RentalAgreement{
		ID:            id,
		OwnerAddress:  "owner",
		RenterAddress: "renter",
		RentAmount:    ledger.MustParseAmount("6"),
		Deposit:       ledger.MustParseAmount("2"),
		Ratio:         ratio,
		Status:        escrow.StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	agreement := sampleAgreement("r-1")
	require.NoError(t, store.Create(ctx, agreement))

	got, err := store.Get(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, agreement.ID, got.ID)
	require.Equal(t, escrow.StatusCreated, got.Status)
	require.True(t, got.RentAmount.Equal(agreement.RentAmount))
	require.True(t, got.Deposit.Equal(agreement.Deposit))

	got.Status = escrow.StatusAwaitingPayment
	got.EscrowAddress = "escrow"
	got.TransactionLog = append(got.TransactionLog, escrow.TransactionRecord{
		Hash:    "abc",
		Kind:    escrow.KindCreateEscrow,
		Outcome: escrow.OutcomeConfirmed,
	})
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusAwaitingPayment, updated.Status)
	require.Equal(t, "escrow", updated.EscrowAddress)
	require.Len(t, updated.TransactionLog, 1)
	require.Equal(t, escrow.KindCreateEscrow, updated.TransactionLog[0].Kind)
}

func TestMemoryStoreGetReturnsDetachedCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, sampleAgreement("r-1")))

	first, err := store.Get(ctx, "r-1")
	require.NoError(t, err)
	first.Status = escrow.StatusFunded // mutation must not leak into the store

	second, err := store.Get(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCreated, second.Status)
}

func TestMemoryStoreRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, sampleAgreement("r-1")))
	require.ErrorIs(t, store.Create(ctx, sampleAgreement("r-1")), ErrDuplicateID)
}

func TestMemoryStoreMissingAgreement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "absent")
	require.ErrorIs(t, err, escrow.ErrAgreementNotFound)
	require.ErrorIs(t, store.Update(ctx, sampleAgreement("absent")), escrow.ErrAgreementNotFound)
}
