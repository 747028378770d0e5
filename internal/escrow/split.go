package escrow

import (
	"fmt"

	"rentrails/internal/ledger"
)

// Split divides a settlement total between owner and renter at the ledger's
// seven-digit precision. The renter share is truncated, so any sub-unit
// remainder lands with the owner: the split is deterministic and the two
// payouts always sum to the total exactly. The escrow reserve is not part of
// the total; it returns to the owner through the closing merge.
func Split(total ledger.Amount, ratio SplitRatio) (owner, renter ledger.Amount, err error) {
	if total.IsNegative() {
		return ledger.ZeroAmount(), ledger.ZeroAmount(),
			fmt.Errorf("split total %s: %w", total, ledger.ErrInvalidAmount)
	}
	renter = total.MulDecTruncate(ratio.Renter)
	owner = total.Sub(renter)
	return owner, renter, nil
}
