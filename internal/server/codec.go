package server

import (
	"github.com/google/uuid"
	psrpcore "github.com/smnsjas/go-psrpcore/server"
)

// RunspacePool is the narrow slice of github.com/smnsjas/go-psrpcore/server's
// *psrpcore.RunspacePool that this package drives. Declaring it as an
// interface here — rather than depending on the concrete codec type
// directly everywhere — lets tests substitute a hand-written fake, the
// same way powershell.PoolClient lets the WSMan backend's tests substitute
// mockWSManClientForPool instead of a live WSMan server.
type RunspacePool interface {
	ID() uuid.UUID
	ReceiveData(payload []byte, stream psrpcore.StreamType, pipelineID uuid.UUID) error
	NextEvent() (psrpcore.Event, bool)
	DataToSend() (payload []byte, stream psrpcore.StreamType, target uuid.UUID, ok bool)
	Close()
	SetBroken(rec *psrpcore.ErrorRecord)
	State() psrpcore.RunspacePoolState
	Host() *psrpcore.HostInfo
	NewHostRequestor() HostRequestor
}

// Pipeline is the narrow slice of *psrpcore.Pipeline this package drives.
type Pipeline interface {
	ID() uuid.UUID
	Start()
	Complete()
	WriteOutput(obj interface{})
	WriteError(opts psrpcore.WriteErrorOptions)
	BeginStop()
	Close()
	ChangeState(state psrpcore.PSInvocationState, rec *psrpcore.ErrorRecord)
	State() psrpcore.PSInvocationState
	Metadata() *psrpcore.PipelineMetadata
	NewHostRequestor() HostRequestor
}

// HostRequestor is the narrow slice of *psrpcore.HostRequestor the Host
// Facade (internal/hostcall) needs: mint a host-call request and hand
// back the call-id the matching PSRPHostResponse event will carry.
type HostRequestor interface {
	WriteLine(line string, foreground, background *psrpcore.ConsoleColor) (int64, error)
	PromptForCredential(caption, message string, username, targetName *string) (int64, error)
}

// newRunspacePool constructs the real codec-backed pool. Production code
// calls this; tests construct a fakeRunspacePool directly instead.
func newRunspacePool() RunspacePool {
	return psrpcore.NewRunspacePool()
}

// newPipeline constructs the real codec-backed pipeline for id against
// pool. Production code calls this; tests construct a fakePipeline
// directly instead.
func newPipeline(pool RunspacePool, id uuid.UUID) (Pipeline, error) {
	concretePool, ok := pool.(*psrpcore.RunspacePool)
	if !ok {
		return nil, errNotRealPool
	}
	return psrpcore.NewPipeline(concretePool, id), nil
}
