package server

import "errors"

var (
	// ErrUnknownPipeline is returned when a Close packet addresses a
	// pipeline GUID the transport has no worker for. Signals and codec
	// events for an unknown pipeline are only logged.
	ErrUnknownPipeline = errors.New("server: unknown pipeline")

	// ErrHostMethodUnavailable names the error kind for a host method the
	// attached client declared it has no UI for (IsHostUINull,
	// IsHostRawUINull). Nothing in this package returns it; the Host
	// Facade reports that case as hostcall.ErrUnavailable.
	ErrHostMethodUnavailable = errors.New("server: host method unavailable")

	// ErrHostCallFailed is returned when the client answered a host call
	// with an error record rather than a result.
	ErrHostCallFailed = errors.New("server: host call failed")

	// ErrCodecFailure wraps the error wireframe.Decode returns for an
	// inbound envelope line that does not parse. Errors from the pool's
	// ReceiveData are logged by the runspace worker, not wrapped.
	ErrCodecFailure = errors.New("server: codec failure")

	// errNotRealPool guards newPipeline against being handed a fake pool
	// in a test; production code always passes the codec-backed pool
	// newRunspacePool returned.
	errNotRealPool = errors.New("server: pipeline requires a codec-backed runspace pool")
)
