package agent

import (
	"context"

	"github.com/shopspring/decimal"
)

// Op identifies an external call the agent can dispatch.
type Op int

const (
	// OpTransferShares moves shares between two venue accounts.
	OpTransferShares Op = iota + 1
	// OpDeposit places assets into the venue, crediting shares to Account.
	OpDeposit
	// OpRequestRedeem is step one of the asynchronous redeem protocol.
	OpRequestRedeem
	// OpExecuteRedeem is step two: burns the requested shares and pays assets out.
	OpExecuteRedeem
)

// String returns the string representation of Op.
func (o Op) String() string {
	switch o {
	case OpTransferShares:
		return "TRANSFER_SHARES"
	case OpDeposit:
		return "DEPOSIT"
	case OpRequestRedeem:
		return "REQUEST_REDEEM"
	case OpExecuteRedeem:
		return "EXECUTE_REDEEM"
	default:
		return "UNKNOWN"
	}
}

// Command is one ordered (target, payload) descriptor in a batch. Exactly one
// of Shares/Assets is meaningful per op: transfers and redeems carry share
// units, deposits carry asset units.
type Command struct {
	Op      Op
	Asset   string
	Account string // acting account (transfer source, depositor, redeemer)
	To      string // transfer destination; empty otherwise
	Shares  decimal.Decimal
	Assets  decimal.Decimal
}

// Result is the outcome of one command, in submission order.
type Result struct {
	Index  int
	Output decimal.Decimal // shares credited/burned or assets moved
}

// Executor dispatches command batches as one atomic unit: a failure anywhere
// aborts the whole batch with no partial application. Two-step protocols are
// expressed as two ordered commands in the same batch.
type Executor interface {
	Execute(ctx context.Context, cmds []Command) ([]Result, error)
	// Transact runs fn all-or-nothing: every command batch and position change
	// made inside fn is rolled back when fn returns an error. This reproduces
	// the host-transaction atomicity the settlement flows assume.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransferShares builds a share transfer command.
func TransferShares(asset, from, to string, shares decimal.Decimal) Command {
	return Command{Op: OpTransferShares, Asset: asset, Account: from, To: to, Shares: shares}
}

// Deposit builds an asset deposit command.
func Deposit(asset, account string, assets decimal.Decimal) Command {
	return Command{Op: OpDeposit, Asset: asset, Account: account, Assets: assets}
}

// Redeem builds the two ordered commands of the request-then-execute redeem
// protocol for the same batch.
func Redeem(asset, account string, shares decimal.Decimal) []Command {
	return []Command{
		{Op: OpRequestRedeem, Asset: asset, Account: account, Shares: shares},
		{Op: OpExecuteRedeem, Asset: asset, Account: account, Shares: shares},
	}
}
