package ledger

import (
	"errors"
	"testing"
)

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"insufficient funds for gas * price + value", ErrInsufficientFunds},
		{"execution reverted: Insufficient payment", ErrInsufficientPayment},
		{"execution reverted: Already purchased", ErrAlreadyPurchased},
	}

	for _, tt := range tests {
		if got := classifySendError(errors.New(tt.in)); !errors.Is(got, tt.want) {
			t.Errorf("classifySendError(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	passthrough := errors.New("nonce too low")
	if got := classifySendError(passthrough); got != passthrough {
		t.Errorf("Unrecognized errors should pass through, got %v", got)
	}
	if classifySendError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestClassifyWithdrawError(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"execution reverted: Not the contract owner", ErrNotOwner},
		{"execution reverted: No balance to withdraw", ErrNothingToWithdraw},
	}

	for _, tt := range tests {
		if got := classifyWithdrawError(errors.New(tt.in)); !errors.Is(got, tt.want) {
			t.Errorf("classifyWithdrawError(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	passthrough := errors.New("rpc timeout")
	if got := classifyWithdrawError(passthrough); got != passthrough {
		t.Errorf("Unrecognized errors should pass through, got %v", got)
	}
}
