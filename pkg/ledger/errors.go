package ledger

import (
	"errors"
	"strings"
)

// Errors surfaced by the ledger client. The revert strings come from the
// deployed access contract; node-level conditions are matched on the
// substrings go-ethereum uses.
var (
	// ErrWrongNetwork means no configured RPC endpoint served the
	// expected chain.
	ErrWrongNetwork = errors.New("connected node is on the wrong network")

	// ErrInsufficientFunds means the account cannot cover value + gas.
	ErrInsufficientFunds = errors.New("insufficient funds for purchase")

	// ErrInsufficientPayment means the sent amount is below the
	// contract's current price.
	ErrInsufficientPayment = errors.New("payment below prediction price")

	// ErrAlreadyPurchased means access was already granted. Callers
	// treat this as "no payment needed", not as a failure.
	ErrAlreadyPurchased = errors.New("prediction already purchased")

	// ErrNotOwner means the withdraw caller is not the contract owner.
	ErrNotOwner = errors.New("caller is not the contract owner")

	// ErrNothingToWithdraw means the contract balance is zero.
	ErrNothingToWithdraw = errors.New("no balance to withdraw")

	// ErrSettlementTimeout means the settlement poll hit its ceiling
	// before the transaction was mined.
	ErrSettlementTimeout = errors.New("timed out waiting for settlement")
)

// classifySendError maps a node or revert error from a purchase
// submission onto the client's error set. Unrecognized errors pass
// through unchanged.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return ErrInsufficientFunds
	case strings.Contains(msg, "insufficient payment"):
		return ErrInsufficientPayment
	case strings.Contains(msg, "already purchased"):
		return ErrAlreadyPurchased
	}
	return err
}

// classifyWithdrawError maps a revert from withdraw().
func classifyWithdrawError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not the contract owner"), strings.Contains(msg, "not owner"):
		return ErrNotOwner
	case strings.Contains(msg, "no balance to withdraw"), strings.Contains(msg, "nothing to withdraw"):
		return ErrNothingToWithdraw
	}
	return err
}
