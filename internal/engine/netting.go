package engine

import (
	"fmt"

	"settle_go/internal/domain"

	"github.com/shopspring/decimal"
)

// maxDustIterations bounds the ceiling loop. Share prices are fixed-point
// with limited decimal resolution, so the loop terminates far earlier; the
// cap turns a misbehaving venue into an error instead of a hang.
const maxDustIterations = 4096

var oneShare = decimal.NewFromInt(1)

// Direction indicates which way shares move between the two ledger positions.
type Direction int

const (
	// IntoPosition moves value from the mint/redeem ledger into the vault
	// position (deposits exceeded redemption requests).
	IntoPosition Direction = iota + 1
	// OutOfPosition moves value back to the mint/redeem ledger.
	OutOfPosition
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case IntoPosition:
		return "INTO_POSITION"
	case OutOfPosition:
		return "OUT_OF_POSITION"
	default:
		return "UNKNOWN"
	}
}

// ShareTransfer is a netting outcome: a dust-safe share amount and the
// direction implied by the netted sign. Zero netting yields no transfer.
type ShareTransfer struct {
	Shares    decimal.Decimal
	Direction Direction
}

// Net is deposited minus requested, both in asset units. Exact, signed.
func Net(deposited, requestedAssets decimal.Decimal) decimal.Decimal {
	return deposited.Sub(requestedAssets)
}

// NettingTransfer converts a signed asset delta into a share transfer at the
// position's current price. Returns nil when netted is zero.
//
// The batch guard fails hard rather than clamping: netting only runs inside a
// settlement, on a batch that was closed by that same settlement and has not
// been settled yet.
func NettingTransfer(batch *domain.Batch, pos domain.YieldPosition, netted decimal.Decimal) (*ShareTransfer, error) {
	if batch.IsSettled {
		return nil, domain.NewStateError("netting", domain.ErrBatchSettled)
	}
	if !batch.IsClosed {
		return nil, domain.NewStateError("netting", domain.ErrBatchNotClosed)
	}
	if netted.IsZero() {
		return nil, nil
	}

	shares, err := CeilingShares(pos, netted.Abs())
	if err != nil {
		return nil, err
	}

	dir := IntoPosition
	if netted.Sign() < 0 {
		dir = OutOfPosition
	}
	return &ShareTransfer{Shares: shares, Direction: dir}, nil
}

// CeilingShares returns the minimal whole-unit share amount whose asset value
// covers target: sharesUsed is the smallest integer with
// assetsFromShares(sharesUsed) >= target. Off by at most the dust the price
// resolution allows.
func CeilingShares(pos domain.YieldPosition, target decimal.Decimal) (decimal.Decimal, error) {
	if target.Sign() < 0 {
		return decimal.Zero, domain.NewInvariantError("target", "ceiling conversion needs a non-negative amount")
	}
	if target.IsZero() {
		return decimal.Zero, nil
	}

	shares, err := pos.ConvertToShares(target)
	if err != nil {
		return decimal.Zero, err
	}

	for i := 0; ; i++ {
		if i >= maxDustIterations {
			return decimal.Zero, domain.NewInvariantError("shares",
				fmt.Sprintf("dust correction did not converge after %d steps", maxDustIterations))
		}
		assets, err := pos.ConvertToAssets(shares)
		if err != nil {
			return decimal.Zero, err
		}
		if assets.GreaterThanOrEqual(target) {
			return shares, nil
		}
		shares = shares.Add(oneShare)
	}
}
