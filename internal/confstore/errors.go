package confstore

import (
	"errors"
	"fmt"
)

var (
	// ErrUpdateCheck wraps any failure to reach or parse the notice endpoint.
	ErrUpdateCheck = errors.New("update check failed")
	// ErrNotNewer is returned when a downloaded blob is not newer than the
	// local configuration.
	ErrNotNewer = errors.New("config is not newer than local")
	ErrNotFound = errors.New("not found")
)

// DecodeError reports a blob that could not be decrypted or parsed.
type DecodeError struct {
	Source string // "local", "bundled", "remote"
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s config: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// VersionGateError reports a blob requiring a newer module than the running
// one. The blob is rejected as a whole.
type VersionGateError struct {
	ConfVersion int
	Required    int
	Have        int
}

func (e *VersionGateError) Error() string {
	return fmt.Sprintf("config v%d requires module version %d, running %d", e.ConfVersion, e.Required, e.Have)
}
