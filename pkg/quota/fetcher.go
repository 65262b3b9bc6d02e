package quota

import (
	"context"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindAuth          ErrorKind = "auth"
	ErrorKindNetwork       ErrorKind = "network"
	ErrorKindDeviceOffline ErrorKind = "device_offline"
)

// FetchError classifies a failed vendor call. Auth failures need operator
// action; network and offline failures are retried by the next due tick.
type FetchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quota fetch (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("quota fetch (%s): %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher is the vendor API boundary. FetchQuota returns the current value
// of each requested key; nil or empty metricKeys asks for every quota the
// device reports. Keys the device did not report are absent from the result,
// and values arrive untyped the way the vendor sent them. Implementations
// own their call timeout.
type Fetcher interface {
	FetchQuota(ctx context.Context, deviceSN string, metricKeys []string) (map[string]any, error)
}
