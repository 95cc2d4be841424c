package flow

import "fmt"

// Reason classifies terminal flow failures. Each maps to exactly one
// user-visible message so the presenter can respond specifically.
type Reason string

const (
	// ReasonNotConnected: no account was supplied.
	ReasonNotConnected Reason = "not_connected"

	// ReasonWrongNetwork: the ledger endpoint serves the wrong chain.
	ReasonWrongNetwork Reason = "wrong_network"

	// ReasonLedgerUnavailable: an access or price read failed.
	ReasonLedgerUnavailable Reason = "ledger_unavailable"

	// ReasonPaymentCancelled: the user abandoned the payment. The flow
	// must not fetch a prediction afterwards.
	ReasonPaymentCancelled Reason = "payment_cancelled"

	// ReasonInsufficientFunds: the account cannot cover the payment.
	ReasonInsufficientFunds Reason = "insufficient_funds"

	// ReasonPurchaseFailed: generic submission failure, distinct from
	// the two specific payment conditions above.
	ReasonPurchaseFailed Reason = "purchase_failed"

	// ReasonSettlementTimeout: the payment was submitted but not mined
	// within the configured ceiling.
	ReasonSettlementTimeout Reason = "settlement_timeout"

	// ReasonPaymentVerificationFailed: the payment mined but the ledger
	// still denies access. Hard stop; retrying risks double-charging.
	ReasonPaymentVerificationFailed Reason = "payment_verification_failed"

	// ReasonPredictionUnavailable: the prediction API returned an error
	// or a structurally invalid payload.
	ReasonPredictionUnavailable Reason = "prediction_unavailable"
)

// Failure is a terminal flow error: one reason, one user-visible
// message, and the underlying cause for logs.
type Failure struct {
	Reason  Reason
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Reason, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func failf(reason Reason, err error, format string, args ...interface{}) *Failure {
	return &Failure{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
