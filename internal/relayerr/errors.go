// Package relayerr defines the error taxonomy shared by every core component.
package relayerr

import "fmt"

// Kind identifies one of the fixed error categories the relay surfaces to callers.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	PolicyRejected     Kind = "policy_rejected"
	RateLimited        Kind = "rate_limited"
	Unauthorized       Kind = "unauthorized"
	SignerUnavailable  Kind = "signer_unavailable"
	SignerRejected     Kind = "signer_rejected"
	MempoolRejected    Kind = "mempool_rejected"
	Internal           Kind = "internal"
)

// rpcCodes maps each Kind to its stable JSON-RPC error code.
var rpcCodes = map[Kind]int{
	InvalidInput:      -32602,
	PolicyRejected:    -32604,
	RateLimited:       -32005,
	Unauthorized:      -32001,
	SignerUnavailable: -32010,
	SignerRejected:    -32011,
	MempoolRejected:   -32020,
	Internal:          -32603,
}

// httpStatus maps each Kind to the HTTP status the REST facade returns.
var httpStatus = map[Kind]int{
	InvalidInput:      400,
	PolicyRejected:    403,
	RateLimited:       429,
	Unauthorized:      401,
	SignerUnavailable: 503,
	SignerRejected:    502,
	MempoolRejected:   502,
	Internal:          500,
}

// RelayError is the single error type every core operation returns.
type RelayError struct {
	Kind    Kind
	Message string
	Detail  map[string]interface{}
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// RPCCode returns the stable JSON-RPC error code for this error's Kind.
func (e *RelayError) RPCCode() int {
	if code, ok := rpcCodes[e.Kind]; ok {
		return code
	}
	return rpcCodes[Internal]
}

// HTTPStatus returns the REST-facade HTTP status for this error's Kind.
func (e *RelayError) HTTPStatus() int {
	if status, ok := httpStatus[e.Kind]; ok {
		return status
	}
	return httpStatus[Internal]
}

func new_(kind Kind, message string, cause error, detail map[string]interface{}) *RelayError {
	return &RelayError{Kind: kind, Message: message, Cause: cause, Detail: detail}
}

func NewInvalidInput(message string, detail map[string]interface{}) *RelayError {
	return new_(InvalidInput, message, nil, detail)
}

func NewPolicyRejected(ruleName string) *RelayError {
	return new_(PolicyRejected, "rejected by policy rule", nil, map[string]interface{}{"rule": ruleName})
}

func NewRateLimited() *RelayError {
	return new_(RateLimited, "rate limit exceeded", nil, nil)
}

func NewUnauthorized() *RelayError {
	return new_(Unauthorized, "unauthorized", nil, nil)
}

func NewSignerUnavailable(cause error) *RelayError {
	return new_(SignerUnavailable, "signer unavailable", cause, nil)
}

func NewSignerRejected(reason string) *RelayError {
	return new_(SignerRejected, "signer rejected request", nil, map[string]interface{}{"reason": reason})
}

func NewMempoolRejected(reason string) *RelayError {
	return new_(MempoolRejected, "mempool rejected operation", nil, map[string]interface{}{"reason": reason})
}

func NewInternal(cause error) *RelayError {
	return new_(Internal, "internal error", cause, nil)
}

// Is reports whether err is a *RelayError of the given kind.
func Is(err error, kind Kind) bool {
	re, ok := err.(*RelayError)
	if !ok {
		return false
	}
	return re.Kind == kind
}
