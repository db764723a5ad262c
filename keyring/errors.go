package keyring

import (
	"errors"

	"github.com/ruteri/secure-element-agent/metrics"
)

var (
	// ErrParameter is returned when input validation fails before any
	// provider call was made.
	ErrParameter = errors.New("parameter error")

	// ErrProvider is returned when a crypto provider or attestation call fails.
	ErrProvider = errors.New("provider error")

	// ErrNotFound is returned for unknown virtual key ids and empty slots.
	ErrNotFound = errors.New("key slot not found")

	// ErrVerifyFailed is returned when an HMAC does not match.
	ErrVerifyFailed = errors.New("mac verification failed")
)

// Status is the coarse outcome reported to callers across process
// boundaries.
type Status int

const (
	StatusOK Status = iota
	StatusParameter
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusParameter:
		return "parameter_error"
	default:
		return "error"
	}
}

// StatusOf maps an error returned by this package to its Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrParameter):
		return StatusParameter
	default:
		return StatusError
	}
}

func metricStatus(err error) string {
	switch StatusOf(err) {
	case StatusOK:
		return metrics.StatusSuccess
	case StatusParameter:
		return metrics.StatusParameter
	default:
		return metrics.StatusError
	}
}
