package escrow

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"rentrails/internal/ledger"
)

var (
	ErrAgreementNotFound = errors.New("rental agreement not found")
	ErrInvalidTransition = errors.New("invalid agreement status transition")
	ErrInvalidRatio      = errors.New("split ratio shares must be non-negative and sum to 1")
)

// AgreementStatus is the agreement's position in the escrow lifecycle.
// Transitions are one-directional; Completed and Cancelled absorb.
type AgreementStatus uint8

const (
	StatusCreated AgreementStatus = iota
	StatusAwaitingPayment
	StatusFunded
	StatusCompleted
	StatusCancelled
)

var statusNames = map[AgreementStatus]string{
	StatusCreated:         "created",
	StatusAwaitingPayment: "awaiting_payment",
	StatusFunded:          "funded",
	StatusCompleted:       "completed",
	StatusCancelled:       "cancelled",
}

func (s AgreementStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s AgreementStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var allowedTransitions = map[AgreementStatus][]AgreementStatus{
	StatusCreated:         {StatusAwaitingPayment},
	StatusAwaitingPayment: {StatusFunded},
	StatusFunded:          {StatusCompleted, StatusCancelled},
}

func (s AgreementStatus) canTransitionTo(next AgreementStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RecordKind tags what a ledger submission did.
type RecordKind string

const (
	KindCreateEscrow   RecordKind = "create_escrow"
	KindFund           RecordKind = "fund"
	KindSettleComplete RecordKind = "settle_complete"
	KindSettleCancel   RecordKind = "settle_cancel"
)

// RecordOutcome is the submission's final state. Pending records are mutated
// exactly once, to Confirmed or Rejected.
type RecordOutcome string

const (
	OutcomePending   RecordOutcome = "pending"
	OutcomeConfirmed RecordOutcome = "confirmed"
	OutcomeRejected  RecordOutcome = "rejected"
)

// TransactionRecord is one entry of an agreement's append-only audit log.
type TransactionRecord struct {
	Hash        string            `json:"hash"`
	Kind        RecordKind        `json:"kind"`
	Amounts     map[string]string `json:"amounts,omitempty"`
	SubmittedAt time.Time         `json:"submittedAt"`
	Outcome     RecordOutcome     `json:"outcome"`
}

// SplitRatio is the per-agreement owner/renter payout split. Shares always
// sum to exactly 1.
type SplitRatio struct {
	Owner  sdkmath.LegacyDec `json:"owner"`
	Renter sdkmath.LegacyDec `json:"renter"`
}

func NewSplitRatio(owner, renter string) (SplitRatio, error) {
	o, err := sdkmath.LegacyNewDecFromStr(owner)
	if err != nil {
		return SplitRatio{}, fmt.Errorf("owner share %q: %w", owner, ErrInvalidRatio)
	}
	r, err := sdkmath.LegacyNewDecFromStr(renter)
	if err != nil {
		return SplitRatio{}, fmt.Errorf("renter share %q: %w", renter, ErrInvalidRatio)
	}
	if o.IsNegative() || r.IsNegative() || !o.Add(r).Equal(sdkmath.LegacyOneDec()) {
		return SplitRatio{}, fmt.Errorf("shares %s + %s: %w", owner, renter, ErrInvalidRatio)
	}
	return SplitRatio{Owner: o, Renter: r}, nil
}

// RentalAgreement is the unit the orchestrator drives through the escrow
// lifecycle. Persistence belongs to the rental-store collaborator; the core
// reads and writes it through the AgreementStore boundary.
type RentalAgreement struct {
	ID             string              `json:"id"`
	OwnerAddress   string              `json:"ownerAddress"`
	RenterAddress  string              `json:"renterAddress"`
	RentAmount     ledger.Amount       `json:"rentAmount"`
	Deposit        ledger.Amount       `json:"deposit"`
	Ratio          SplitRatio          `json:"splitRatio"`
	EscrowAddress  string              `json:"escrowAddress,omitempty"`
	Status         AgreementStatus     `json:"status"`
	TransactionLog []TransactionRecord `json:"transactionLog,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

func (a *RentalAgreement) transition(next AgreementStatus) error {
	if !a.Status.canTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", a.Status, next, ErrInvalidTransition)
	}
	a.Status = next
	return nil
}

func (a *RentalAgreement) appendRecord(rec TransactionRecord) *TransactionRecord {
	a.TransactionLog = append(a.TransactionLog, rec)
	return &a.TransactionLog[len(a.TransactionLog)-1]
}

// settlementRecord returns the confirmed settlement entry, if the agreement
// has one.
func (a *RentalAgreement) settlementRecord() *TransactionRecord {
	for i := range a.TransactionLog {
		rec := &a.TransactionLog[i]
		if (rec.Kind == KindSettleComplete || rec.Kind == KindSettleCancel) && rec.Outcome == OutcomeConfirmed {
			return rec
		}
	}
	return nil
}

func (a *RentalAgreement) clone() *RentalAgreement {
	cp := *a
	cp.TransactionLog = make([]TransactionRecord, len(a.TransactionLog))
	for i, rec := range a.TransactionLog {
		cp.TransactionLog[i] = rec
		if rec.Amounts != nil {
			amounts := make(map[string]string, len(rec.Amounts))
			for k, v := range rec.Amounts {
				amounts[k] = v
			}
			cp.TransactionLog[i].Amounts = amounts
		}
	}
	return &cp
}

// SignerSet is an unordered authorization set: signer weights plus the
// combined weight releases require. Membership and threshold matter, signing
// order does not.
type SignerSet struct {
	weights   map[string]uint32
	threshold uint32
}

func NewSignerSet(threshold uint32) *SignerSet {
	return &SignerSet{weights: make(map[string]uint32), threshold: threshold}
}

func (s *SignerSet) Add(address string, weight uint32) *SignerSet {
	s.weights[address] = weight
	return s
}

func (s *SignerSet) Threshold() uint32 { return s.threshold }

// Members lists the set's addresses, sorted for determinism.
func (s *SignerSet) Members() []string {
	out := make([]string, 0, len(s.weights))
	for addr := range s.weights {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Satisfied reports whether the distinct signers' combined weight meets the
// threshold.
func (s *SignerSet) Satisfied(signedBy []string) bool {
	var weight uint32
	seen := make(map[string]bool)
	for _, addr := range signedBy {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		weight += s.weights[addr]
	}
	return weight >= s.threshold
}

// escrowSignerSet is the 2-of-2 release rule every escrow account carries.
func escrowSignerSet(owner, renter string) *SignerSet {
	return NewSignerSet(escrowThreshold).Add(owner, 1).Add(renter, 1)
}
