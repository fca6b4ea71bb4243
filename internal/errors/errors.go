package errors

import "errors"

// Workflow errors.
var (
	// ErrValidation indicates a step gate or input check is not satisfied.
	ErrValidation = errors.New("validation failed")

	// ErrNoArtifact indicates the wizard holds no encoded artifact to send or download.
	ErrNoArtifact = errors.New("no encoded artifact available")

	// ErrUnsupported indicates a method or algorithm has no implementation.
	ErrUnsupported = errors.New("unsupported operation")
)

// External call errors.
var (
	// ErrTransport indicates the remote service could not be reached or failed internally.
	ErrTransport = errors.New("transport error")

	// ErrTimeout indicates a remote call exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrEncodeFailed indicates the encode service rejected the submission.
	ErrEncodeFailed = errors.New("encoding failed")

	// ErrDecodeFailed indicates a wrong key or a corrupt artifact.
	ErrDecodeFailed = errors.New("decryption failed")
)

// Access and data errors.
var (
	// ErrUnauthorized indicates the current user is not a participant of the conversation.
	ErrUnauthorized = errors.New("unauthorized conversation access")

	// ErrMissingPayload indicates a message carries neither inline content nor an attachment.
	ErrMissingPayload = errors.New("invalid stego message")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

type reasonError struct {
	kind   error
	reason string
}

func (e *reasonError) Error() string { return e.reason }

func (e *reasonError) Unwrap() error { return e.kind }

// Reason returns an error that reports reason as its message and matches kind.
// An empty reason falls back to the kind's own message.
func Reason(kind error, reason string) error {
	if reason == "" {
		reason = kind.Error()
	}
	return &reasonError{kind: kind, reason: reason}
}

// Kind returns the taxonomy sentinel err matches, or nil if it matches none.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation, ErrNoArtifact, ErrUnsupported,
		ErrTimeout, ErrTransport, ErrEncodeFailed, ErrDecodeFailed,
		ErrUnauthorized, ErrMissingPayload, ErrNotFound,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
