package harness

import "fmt"

// ProtocolError is a non-2xx response from a provider token endpoint. The
// response body is carried verbatim; debugging against live provider APIs
// depends on seeing the exact error payload.
type ProtocolError struct {
	Step       string // which exchange step failed ("short_lived", "long_lived", "token")
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s exchange failed with status %d: %s", e.Step, e.StatusCode, e.Body)
}

// PersistError is a credential store read or write failure
type PersistError struct {
	Op  string // "upsert", "get", "list"
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("credential store %s failed: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// RelayError is a non-2xx response from the backend relay
type RelayError struct {
	StatusCode int
	Body       string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("backend relay responded with %d: %s", e.StatusCode, e.Body)
}
