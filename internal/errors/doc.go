// Package errors provides the error taxonomy shared by the messaging core.
//
// Callers match kinds with errors.Is against the sentinels declared here
// instead of comparing strings. Components that need to surface a
// human-readable reason wrap a sentinel with Reason:
//
//	return apperrors.Reason(apperrors.ErrDecodeFailed, "invalid key")
//
// The resulting error prints only the reason, so it can be rendered inline
// next to the step or dialog that triggered it, while
// errors.Is(err, apperrors.ErrDecodeFailed) still holds.
//
// # Kinds
//
//   - ErrValidation: a step gate or input check is unmet; blocks the action only.
//   - ErrTransport: the stego service or store is unreachable; retry by re-invoking.
//   - ErrTimeout: an external call exceeded its deadline.
//   - ErrEncodeFailed / ErrDecodeFailed: the service rejected the input (wrong key, bad cover).
//   - ErrUnauthorized: a conversation was opened by a non-participant; fatal for that view.
//   - ErrMissingPayload: a message has no usable encoded content; decode aborts before any call.
//   - ErrNotFound, ErrNoArtifact, ErrUnsupported: lookup and state errors.
package errors
