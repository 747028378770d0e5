package escrow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"rentrails/internal/keyring"
	"rentrails/internal/ledger"
)

// escrowThreshold is the combined signer weight every release from an
// escrow account needs: owner (1) plus renter (1).
const escrowThreshold = 2

// AccountManager creates jointly-controlled custody accounts.
type AccountManager struct {
	builder *Builder
	log     zerolog.Logger
}

func NewAccountManager(builder *Builder, log zerolog.Logger) *AccountManager {
	return &AccountManager{
		builder: builder,
		log:     log.With().Str("component", "escrow_accounts").Logger(),
	}
}

// CreateEscrow opens a new custody account funded with the starting reserve
// from the owner's account. One envelope, three operations: create the
// account, add the owner signer while zeroing the master weight, add the
// renter signer while raising all thresholds to 2. After it commits, no
// single party can move funds alone, not even the escrow's own key.
// The owner signs alone: it is the source of the creation funds.
func (m *AccountManager) CreateEscrow(ctx context.Context, owner, renter string, reserve ledger.Amount, provider keyring.Provider) (string, *ledger.Receipt, error) {
	escrowAddress, err := keyring.NewEphemeralAddress()
	if err != nil {
		return "", nil, fmt.Errorf("generate escrow address: %w", err)
	}

	var (
		masterOff uint32 = 0
		weightOne uint32 = 1
		threshold uint32 = escrowThreshold
	)
	plan := Plan{
		Source: owner,
		Operations: []ledger.Operation{
			ledger.NewCreateAccountOp(escrowAddress, reserve),
			{
				Kind:         ledger.OpSetOptions,
				Target:       escrowAddress,
				MasterWeight: &masterOff,
				Signer:       &ledger.Signer{Address: owner, Weight: weightOne},
			},
			{
				Kind:            ledger.OpSetOptions,
				Target:          escrowAddress,
				Signer:          &ledger.Signer{Address: renter, Weight: weightOne},
				LowThreshold:    &threshold,
				MediumThreshold: &threshold,
				HighThreshold:   &threshold,
			},
		},
		Signers: []string{owner},
	}

	receipt, err := m.builder.Submit(ctx, plan, provider)
	if err != nil {
		return "", nil, fmt.Errorf("create escrow for owner %s: %w", owner, err)
	}

	m.log.Info().Str("escrow", escrowAddress).Str("owner", owner).Str("renter", renter).
		Str("reserve", reserve.String()).Str("tx", receipt.Hash).Msg("escrow account created")
	return escrowAddress, receipt, nil
}
