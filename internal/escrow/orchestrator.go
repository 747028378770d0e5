package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rentrails/internal/keyring"
	"rentrails/internal/ledger"
)

// AgreementStore is the rental-store collaborator boundary. The store owns
// persistence; the orchestrator writes the agreement back after every step.
type AgreementStore interface {
	Create(ctx context.Context, agreement *RentalAgreement) error
	Get(ctx context.Context, id string) (*RentalAgreement, error)
	Update(ctx context.Context, agreement *RentalAgreement) error
}

type SettleOutcome string

const (
	SettleComplete SettleOutcome = "complete"
	SettleCancel   SettleOutcome = "cancel"
)

func ParseSettleOutcome(s string) (SettleOutcome, error) {
	switch SettleOutcome(s) {
	case SettleComplete, SettleCancel:
		return SettleOutcome(s), nil
	default:
		return "", fmt.Errorf("unknown settle outcome %q", s)
	}
}

type AgreementParams struct {
	OwnerAddress  string
	RenterAddress string
	RentAmount    string
	Deposit       string
	OwnerShare    string
	RenterShare   string
}

type EscrowResult struct {
	EscrowAddress string `json:"escrowAddress"`
	TxHash        string `json:"txHash"`
}

type FundResult struct {
	TxHash string `json:"txHash"`
}

type SettleResult struct {
	Outcome        SettleOutcome `json:"outcome"`
	TxHash         string        `json:"txHash"`
	OwnerAmount    string        `json:"ownerAmount,omitempty"`
	RenterAmount   string        `json:"renterAmount,omitempty"`
	AlreadySettled bool          `json:"alreadySettled"`
}

type Config struct {
	// StartingReserve funds each new escrow account with the ledger-mandated
	// minimum, paid by the owner.
	StartingReserve ledger.Amount
	Builder         BuilderConfig
}

// Orchestrator drives rental agreements through escrow creation, funding,
// and settlement. It is stateless between calls apart from the builder's
// per-account sequence cache; agreement state lives in the store.
type Orchestrator struct {
	client   ledger.Client
	provider keyring.Provider
	store    AgreementStore
	builder  *Builder
	accounts *AccountManager
	reserve  ledger.Amount
	log      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(client ledger.Client, provider keyring.Provider, store AgreementStore, cfg Config, log zerolog.Logger) *Orchestrator {
	builder := NewBuilder(client, cfg.Builder, log)
	return &Orchestrator{
		client:   client,
		provider: provider,
		store:    store,
		builder:  builder,
		accounts: NewAccountManager(builder, log),
		reserve:  cfg.StartingReserve,
		log:      log.With().Str("component", "orchestrator").Logger(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// agreementLock serializes the lifecycle of a single agreement. Distinct
// agreements proceed concurrently and share nothing.
func (o *Orchestrator) agreementLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	return lock
}

// CreateAgreement validates and persists a new agreement in Created status.
// No ledger interaction happens yet.
func (o *Orchestrator) CreateAgreement(ctx context.Context, params AgreementParams) (*RentalAgreement, error) {
	if _, err := ledger.DecodeAddress(params.OwnerAddress); err != nil {
		return nil, fmt.Errorf("owner address: %w", err)
	}
	if _, err := ledger.DecodeAddress(params.RenterAddress); err != nil {
		return nil, fmt.Errorf("renter address: %w", err)
	}
	rent, err := ledger.ParseAmount(params.RentAmount)
	if err != nil {
		return nil, fmt.Errorf("rent amount: %w", err)
	}
	deposit, err := ledger.ParseAmount(params.Deposit)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	ratio, err := NewSplitRatio(params.OwnerShare, params.RenterShare)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	agreement := &RentalAgreement{
		ID:            uuid.NewString(),
		OwnerAddress:  params.OwnerAddress,
		RenterAddress: params.RenterAddress,
		RentAmount:    rent,
		Deposit:       deposit,
		Ratio:         ratio,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.Create(ctx, agreement); err != nil {
		return nil, err
	}
	o.log.Info().Str("rental", agreement.ID).Msg("agreement created")
	return agreement.clone(), nil
}

func (o *Orchestrator) GetAgreement(ctx context.Context, id string) (*RentalAgreement, error) {
	agreement, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return agreement.clone(), nil
}

// CreateEscrow opens the agreement's custody account, funded with the
// starting reserve from the owner's account, and moves the agreement to
// AwaitingPayment.
func (o *Orchestrator) CreateEscrow(ctx context.Context, rentalID string) (EscrowResult, error) {
	lock := o.agreementLock(rentalID)
	lock.Lock()
	defer lock.Unlock()

	agreement, err := o.store.Get(ctx, rentalID)
	if err != nil {
		return EscrowResult{}, err
	}
	if agreement.Status != StatusCreated {
		return EscrowResult{}, fmt.Errorf("escrow creation in status %s: %w", agreement.Status, ErrInvalidTransition)
	}

	escrowAddress, receipt, err := o.accounts.CreateEscrow(ctx,
		agreement.OwnerAddress, agreement.RenterAddress, o.reserve, o.provider)
	if err != nil {
		return EscrowResult{}, err
	}

	agreement.EscrowAddress = escrowAddress
	o.confirmRecord(agreement, TransactionRecord{
		Hash: receipt.Hash,
		Kind: KindCreateEscrow,
		Amounts: map[string]string{
			"reserve": o.reserve.String(),
		},
	}, receipt)
	if err := agreement.transition(StatusAwaitingPayment); err != nil {
		return EscrowResult{}, err
	}
	if err := o.save(ctx, agreement); err != nil {
		return EscrowResult{}, err
	}
	return EscrowResult{EscrowAddress: escrowAddress, TxHash: receipt.Hash}, nil
}

// FundEscrow pays the rental total from the renter's account into escrow.
// Receiving funds needs no escrow co-signature; the renter signs alone.
func (o *Orchestrator) FundEscrow(ctx context.Context, rentalID string, amount string) (FundResult, error) {
	lock := o.agreementLock(rentalID)
	lock.Lock()
	defer lock.Unlock()

	agreement, err := o.store.Get(ctx, rentalID)
	if err != nil {
		return FundResult{}, err
	}
	if agreement.Status != StatusAwaitingPayment {
		return FundResult{}, fmt.Errorf("funding in status %s: %w", agreement.Status, ErrInvalidTransition)
	}
	payment, err := ledger.ParseAmount(amount)
	if err != nil {
		return FundResult{}, err
	}
	if payment.IsZero() {
		return FundResult{}, fmt.Errorf("funding amount must be positive: %w", ledger.ErrInvalidAmount)
	}

	receipt, err := o.builder.Submit(ctx, Plan{
		Source:     agreement.RenterAddress,
		Operations: []ledger.Operation{ledger.NewPaymentOp(agreement.EscrowAddress, payment)},
		Signers:    []string{agreement.RenterAddress},
	}, o.provider)
	if err != nil {
		return FundResult{}, fmt.Errorf("fund escrow for rental %s: %w", rentalID, err)
	}

	o.confirmRecord(agreement, TransactionRecord{
		Hash: receipt.Hash,
		Kind: KindFund,
		Amounts: map[string]string{
			"renter": payment.String(),
		},
	}, receipt)
	if err := agreement.transition(StatusFunded); err != nil {
		return FundResult{}, err
	}
	if err := o.save(ctx, agreement); err != nil {
		return FundResult{}, err
	}
	return FundResult{TxHash: receipt.Hash}, nil
}

// Settle releases the escrowed funds. Complete splits the total between
// owner and renter per the agreement's ratio; Cancel refunds the renter in
// full. Either way the remaining reserve merges back to the owner in the
// same envelope, so the ledger applies the whole settlement or none of it.
// Settling an already-terminal agreement returns the recorded receipt and
// submits nothing.
func (o *Orchestrator) Settle(ctx context.Context, rentalID string, outcome SettleOutcome) (SettleResult, error) {
	lock := o.agreementLock(rentalID)
	lock.Lock()
	defer lock.Unlock()

	agreement, err := o.store.Get(ctx, rentalID)
	if err != nil {
		return SettleResult{}, err
	}
	if agreement.Status.Terminal() {
		return o.recordedSettlement(agreement)
	}
	if agreement.Status != StatusFunded {
		return SettleResult{}, fmt.Errorf("settlement in status %s: %w", agreement.Status, ErrInvalidTransition)
	}

	escrowAccount, err := o.client.LoadAccount(ctx, agreement.EscrowAddress)
	if err != nil {
		return SettleResult{}, fmt.Errorf("load escrow %s: %w", agreement.EscrowAddress, err)
	}
	balance := escrowAccount.NativeBalance()
	total := balance.Sub(o.reserve)
	if total.IsNegative() {
		return SettleResult{}, fmt.Errorf("escrow %s holds %s, below the %s reserve: %w",
			agreement.EscrowAddress, balance, o.reserve, ledger.ErrInsufficientBalance)
	}

	var ownerAmount, renterAmount ledger.Amount
	var kind RecordKind
	switch outcome {
	case SettleComplete:
		ownerAmount, renterAmount, err = Split(total, agreement.Ratio)
		if err != nil {
			return SettleResult{}, err
		}
		kind = KindSettleComplete
	case SettleCancel:
		ownerAmount, renterAmount = ledger.ZeroAmount(), total
		kind = KindSettleCancel
	default:
		return SettleResult{}, fmt.Errorf("unknown settle outcome %q", outcome)
	}

	ops := make([]ledger.Operation, 0, 3)
	if !ownerAmount.IsZero() {
		ops = append(ops, ledger.NewPaymentOp(agreement.OwnerAddress, ownerAmount))
	}
	if !renterAmount.IsZero() {
		ops = append(ops, ledger.NewPaymentOp(agreement.RenterAddress, renterAmount))
	}
	ops = append(ops, ledger.NewAccountMergeOp(agreement.OwnerAddress))

	receipt, err := o.builder.Submit(ctx, Plan{
		Source:     agreement.EscrowAddress,
		Operations: ops,
		Signers:    []string{agreement.OwnerAddress, agreement.RenterAddress},
		Required:   escrowSignerSet(agreement.OwnerAddress, agreement.RenterAddress),
	}, o.provider)
	if err != nil {
		// A conflict can mean the other settlement path won from elsewhere.
		// Re-read final state instead of retrying blindly: the escrow may
		// already be emptied.
		if errors.Is(err, ledger.ErrSequenceConflict) || errors.Is(err, ledger.ErrAccountNotFound) {
			if current, readErr := o.store.Get(ctx, rentalID); readErr == nil && current.Status.Terminal() {
				return o.recordedSettlement(current)
			}
		}
		return SettleResult{}, fmt.Errorf("settle rental %s: %w", rentalID, err)
	}

	o.confirmRecord(agreement, TransactionRecord{
		Hash: receipt.Hash,
		Kind: kind,
		Amounts: map[string]string{
			"owner":   ownerAmount.String(),
			"renter":  renterAmount.String(),
			"reserve": o.reserve.String(),
		},
	}, receipt)

	next := StatusCompleted
	if outcome == SettleCancel {
		next = StatusCancelled
	}
	if err := agreement.transition(next); err != nil {
		return SettleResult{}, err
	}
	if err := o.save(ctx, agreement); err != nil {
		return SettleResult{}, err
	}

	o.log.Info().Str("rental", rentalID).Str("outcome", string(outcome)).
		Str("owner", ownerAmount.String()).Str("renter", renterAmount.String()).
		Str("tx", receipt.Hash).Msg("agreement settled")

	return SettleResult{
		Outcome:      outcome,
		TxHash:       receipt.Hash,
		OwnerAmount:  ownerAmount.String(),
		RenterAmount: renterAmount.String(),
	}, nil
}

// QueryBalance reads the native-asset balance entry; an account holding no
// native entry reads as "0".
func (o *Orchestrator) QueryBalance(ctx context.Context, address string) (string, error) {
	account, err := o.client.LoadAccount(ctx, address)
	if err != nil {
		return "", err
	}
	return account.NativeBalance().String(), nil
}

// recordedSettlement is the idempotent read path: the agreement is terminal,
// so return what actually happened without a new submission.
func (o *Orchestrator) recordedSettlement(agreement *RentalAgreement) (SettleResult, error) {
	rec := agreement.settlementRecord()
	if rec == nil {
		return SettleResult{}, fmt.Errorf("agreement %s is %s but has no settlement record: %w",
			agreement.ID, agreement.Status, ErrInvalidTransition)
	}
	outcome := SettleComplete
	if rec.Kind == KindSettleCancel {
		outcome = SettleCancel
	}
	return SettleResult{
		Outcome:        outcome,
		TxHash:         rec.Hash,
		OwnerAmount:    rec.Amounts["owner"],
		RenterAmount:   rec.Amounts["renter"],
		AlreadySettled: true,
	}, nil
}

func (o *Orchestrator) confirmRecord(agreement *RentalAgreement, rec TransactionRecord, receipt *ledger.Receipt) {
	rec.SubmittedAt = time.Now().UTC()
	rec.Outcome = OutcomeConfirmed
	if !receipt.Successful {
		rec.Outcome = OutcomeRejected
	}
	agreement.appendRecord(rec)
}

func (o *Orchestrator) save(ctx context.Context, agreement *RentalAgreement) error {
	agreement.UpdatedAt = time.Now().UTC()
	return o.store.Update(ctx, agreement)
}
