package domain

import "fmt"

// BadRequestError marks caller input the server refuses to process.
// Maps to 4xx; never retried.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return e.Reason }

// ConfigError means the deployment is missing a required secret. Surfaced
// distinctly from request validation so operators can tell a client mistake
// from a broken deployment.
type ConfigError struct {
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("server configuration error: %s is not set", e.Missing)
}

// UpstreamError carries a provider refusal or transport failure verbatim.
// Status 0 means the request never got an HTTP response. Never retried:
// agent attachment is billable and not idempotent.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream request failed: %s", e.Body)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// JoinError reports a channel join that failed after the rollback completed.
// The session is back to disconnected; the caller may retry manually.
type JoinError struct {
	Cause error
}

func (e *JoinError) Error() string { return fmt.Sprintf("failed to join the channel: %v", e.Cause) }

func (e *JoinError) Unwrap() error { return e.Cause }
