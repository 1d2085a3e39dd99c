package transfer

import "errors"

var (
	// ErrSubmitInFlight is returned by Submit while another submission runs.
	// Nothing else happens in that case.
	ErrSubmitInFlight = errors.New("a transfer is already in flight")
	// ErrWalletUnavailable means no wallet authority granted the origin.
	ErrWalletUnavailable = errors.New("No extension found")
	// ErrInclusionTimeout means the transaction reached no terminal status
	// within the configured inclusion timeout.
	ErrInclusionTimeout = errors.New("transaction was not included in a block in time")
)

// Kind classifies submit failures.
type Kind int

const (
	KindUnexpected Kind = iota
	KindWalletUnavailable
	KindSubmission
)

func (k Kind) String() string {
	switch k {
	case KindWalletUnavailable:
		return "wallet unavailable"
	case KindSubmission:
		return "submission failure"
	default:
		return "unexpected failure"
	}
}

// Failure is the error Submit returns. Its message is the underlying
// message, unchanged, so it can be shown to the user as is.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string { return f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

func fail(kind Kind, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: kind, Err: err}
}

// KindOf reports the failure kind of err, KindUnexpected for foreign errors.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnexpected
}
