package x402

import "fmt"

// PaymentError is a structured protocol error. Code is one of the
// verify/settle reason constants below and is what crosses the wire in
// VerifyResponse.invalidReason / SettleResponse.errorReason.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verify-side reason codes.
const (
	ErrInvalidScheme              = "invalid_scheme"
	ErrInvalidNetwork             = "invalid_network"
	ErrInvalidPayload             = "invalid_payload"
	ErrInvalidPaymentRequirements = "invalid_payment_requirements"
	ErrInsufficientAmount         = "insufficient_amount"
	ErrPaymentExpired             = "payment_expired"
	ErrInvalidSignature           = "invalid_signature"
	ErrInvalidAsset               = "invalid_asset"
	ErrInvalidPayer               = "invalid_payer"
	ErrNonceAlreadyUsed           = "nonce_already_used"
	ErrUnexpectedVerifyError      = "unexpected_verify_error"
)

// Settle-side reason codes.
const (
	ErrTransactionFailed     = "transaction_failed"
	ErrInsufficientBalance   = "insufficient_balance"
	ErrGasEstimationFailed   = "gas_estimation_failed"
	ErrTransactionReverted   = "transaction_reverted"
	ErrNetworkError          = "network_error"
	ErrTimeout               = "timeout"
	ErrServiceUnavailable    = "service_unavailable"
	ErrUnexpectedSettleError = "unexpected_settle_error"
)

// Dispatch-side reason codes, produced before a handler is reached.
const (
	ErrUnsupportedScheme  = "unsupported_scheme"
	ErrUnsupportedNetwork = "unsupported_network"
	ErrMissingExtraField  = "missing_extra_field"
)

var verifyReasons = map[string]bool{
	ErrInvalidScheme:              true,
	ErrInvalidNetwork:             true,
	ErrInvalidPayload:             true,
	ErrInvalidPaymentRequirements: true,
	ErrInsufficientAmount:         true,
	ErrPaymentExpired:             true,
	ErrInvalidSignature:           true,
	ErrInvalidAsset:               true,
	ErrInvalidPayer:               true,
	ErrNonceAlreadyUsed:           true,
	ErrUnsupportedScheme:          true,
	ErrUnsupportedNetwork:         true,
	ErrMissingExtraField:          true,
	ErrUnexpectedVerifyError:      true,
}

var settleReasons = map[string]bool{
	ErrTransactionFailed:     true,
	ErrInsufficientBalance:   true,
	ErrGasEstimationFailed:   true,
	ErrTransactionReverted:   true,
	ErrNetworkError:          true,
	ErrTimeout:               true,
	ErrServiceUnavailable:    true,
	ErrUnsupportedScheme:     true,
	ErrUnsupportedNetwork:    true,
	ErrUnexpectedSettleError: true,
}

// NewPaymentError creates a payment error with optional details.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewVerifyError builds a verify-side error. Unknown codes collapse to
// unexpected_verify_error; the original code is preserved in Details
// for logs but never exposed as a reason.
func NewVerifyError(code, message string) *PaymentError {
	if !verifyReasons[code] {
		return &PaymentError{
			Code:    ErrUnexpectedVerifyError,
			Message: message,
			Details: map[string]interface{}{"cause": code},
		}
	}
	return &PaymentError{Code: code, Message: message}
}

// NewSettleError builds a settle-side error, collapsing unknown codes
// to unexpected_settle_error.
func NewSettleError(code, message string) *PaymentError {
	if !settleReasons[code] {
		return &PaymentError{
			Code:    ErrUnexpectedSettleError,
			Message: message,
			Details: map[string]interface{}{"cause": code},
		}
	}
	return &PaymentError{Code: code, Message: message}
}

// VerifyReason maps an arbitrary handler error onto a wire-safe verify
// reason code.
func VerifyReason(err error) string {
	if pe, ok := err.(*PaymentError); ok && verifyReasons[pe.Code] {
		return pe.Code
	}
	return ErrUnexpectedVerifyError
}

// SettleReason maps an arbitrary handler error onto a wire-safe settle
// reason code.
func SettleReason(err error) string {
	if pe, ok := err.(*PaymentError); ok && settleReasons[pe.Code] {
		return pe.Code
	}
	return ErrUnexpectedSettleError
}
