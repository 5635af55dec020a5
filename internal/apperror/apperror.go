package apperror

import "errors"

// Kind is the stable failure category carried by every error this
// service returns to callers.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindNoCredential  Kind = "NO_CREDENTIAL"
	KindNotFound      Kind = "NOT_FOUND"
	KindInvalidState  Kind = "INVALID_STATE"
	KindCrypto        Kind = "CRYPTO"
	KindInvalidSymbol Kind = "INVALID_SYMBOL"
	KindExchange      Kind = "EXCHANGE"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

const sep = ": "

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}

	return e.Message + sep + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or the empty kind when err does not
// carry one anywhere in its chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsValidation(err error) bool    { return IsKind(err, KindValidation) }
func IsRateLimited(err error) bool   { return IsKind(err, KindRateLimited) }
func IsNoCredential(err error) bool  { return IsKind(err, KindNoCredential) }
func IsNotFound(err error) bool      { return IsKind(err, KindNotFound) }
func IsInvalidState(err error) bool  { return IsKind(err, KindInvalidState) }
func IsCrypto(err error) bool        { return IsKind(err, KindCrypto) }
func IsInvalidSymbol(err error) bool { return IsKind(err, KindInvalidSymbol) }
func IsExchange(err error) bool      { return IsKind(err, KindExchange) }
