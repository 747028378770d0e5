package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// NativeAsset is the asset code of the ledger's native token.
const NativeAsset = "native"

type Signer struct {
	Address string `json:"address"`
	Weight  uint32 `json:"weight"`
}

// Thresholds are the minimum combined signer weights for the three operation
// classes. Payments are medium; signer and merge changes are high.
type Thresholds struct {
	Low    uint32 `json:"low"`
	Medium uint32 `json:"medium"`
	High   uint32 `json:"high"`
}

type Balance struct {
	Asset  string `json:"asset"`
	Amount Amount `json:"amount"`
}

type Account struct {
	Address      string     `json:"address"`
	Sequence     int64      `json:"sequence"`
	MasterWeight uint32     `json:"masterWeight"`
	Thresholds   Thresholds `json:"thresholds"`
	Signers      []Signer   `json:"signers,omitempty"`
	Balances     []Balance  `json:"balances,omitempty"`
}

// NativeBalance returns the native-asset entry, or zero when the account
// holds none.
func (a *Account) NativeBalance() Amount {
	for _, b := range a.Balances {
		if b.Asset == NativeAsset {
			return b.Amount
		}
	}
	return ZeroAmount()
}

// SignerWeight returns the weight the given address carries on this account.
// The account's own address carries the master weight.
func (a *Account) SignerWeight(address string) uint32 {
	if address == a.Address {
		return a.MasterWeight
	}
	for _, s := range a.Signers {
		if s.Address == address {
			return s.Weight
		}
	}
	return 0
}

type OperationKind string

const (
	OpCreateAccount OperationKind = "create_account"
	OpPayment       OperationKind = "payment"
	OpSetOptions    OperationKind = "set_options"
	OpAccountMerge  OperationKind = "account_merge"
)

// Operation is a kind-tagged union. Only the fields relevant to Kind are set.
type Operation struct {
	Kind OperationKind `json:"kind"`

	// CreateAccount, Payment, AccountMerge.
	Destination string `json:"destination,omitempty"`
	// CreateAccount (starting balance) and Payment.
	Amount Amount `json:"amount,omitempty"`

	// SetOptions. Target must be the envelope source or an account created
	// earlier in the same envelope.
	Target          string  `json:"target,omitempty"`
	MasterWeight    *uint32 `json:"masterWeight,omitempty"`
	Signer          *Signer `json:"signer,omitempty"`
	LowThreshold    *uint32 `json:"lowThreshold,omitempty"`
	MediumThreshold *uint32 `json:"mediumThreshold,omitempty"`
	HighThreshold   *uint32 `json:"highThreshold,omitempty"`
}

func NewCreateAccountOp(destination string, startingBalance Amount) Operation {
	return Operation{Kind: OpCreateAccount, Destination: destination, Amount: startingBalance}
}

func NewPaymentOp(destination string, amount Amount) Operation {
	return Operation{Kind: OpPayment, Destination: destination, Amount: amount}
}

func NewAccountMergeOp(destination string) Operation {
	return Operation{Kind: OpAccountMerge, Destination: destination}
}

// Envelope is an unsigned transaction: an ordered operation list with an
// explicit fee and a bounded validity window, sequenced against the source
// account.
type Envelope struct {
	Source     string      `json:"source"`
	Sequence   int64       `json:"sequence"`
	Fee        Amount      `json:"fee"`
	ValidUntil time.Time   `json:"validUntil"`
	Operations []Operation `json:"operations"`
}

// HashBytes is the digest signers sign: SHA-256 over the canonical JSON
// encoding of the envelope.
func (e *Envelope) HashBytes() [32]byte {
	b, err := json.Marshal(e)
	if err != nil {
		// Envelope contains only marshalable fields.
		panic(err)
	}
	return sha256.Sum256(b)
}

func (e *Envelope) Hash() string {
	h := e.HashBytes()
	return hex.EncodeToString(h[:])
}

type Signature struct {
	Signer    string `json:"signer"`
	Signature []byte `json:"signature"`
}

type SignedEnvelope struct {
	Envelope   *Envelope   `json:"envelope"`
	Signatures []Signature `json:"signatures"`
}

// SignedBy lists the addresses that contributed a signature.
func (s *SignedEnvelope) SignedBy() []string {
	out := make([]string, 0, len(s.Signatures))
	for _, sig := range s.Signatures {
		out = append(out, sig.Signer)
	}
	return out
}

type Receipt struct {
	Hash       string `json:"hash"`
	Ledger     int64  `json:"ledger"`
	Successful bool   `json:"successful"`
}
