package server

import (
	"sync"

	"github.com/google/uuid"
	psrpcore "github.com/smnsjas/go-psrpcore/server"
)

// fakeRunspacePool is a hand-written stand-in for the codec's
// RunspacePool, the same style as the teacher's mockWSManClientForPool:
// no mocking framework, just enough behavior to drive the scenario under
// test.
type fakeRunspacePool struct {
	mu       sync.Mutex
	id       uuid.UUID
	events   []psrpcore.Event
	outbound [][]byte
	closed   bool
	host     *psrpcore.HostInfo

	onReceive func(payload []byte, stream psrpcore.StreamType, target uuid.UUID) []psrpcore.Event
}

func (f *fakeRunspacePool) ID() uuid.UUID { return f.id }

func (f *fakeRunspacePool) ReceiveData(payload []byte, stream psrpcore.StreamType, target uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onReceive != nil {
		f.events = append(f.events, f.onReceive(payload, stream, target)...)
	}
	return nil
}

func (f *fakeRunspacePool) NextEvent() (psrpcore.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil, false
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, true
}

func (f *fakeRunspacePool) DataToSend() ([]byte, psrpcore.StreamType, uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outbound) == 0 {
		return nil, psrpcore.StreamDefault, uuid.UUID{}, false
	}
	data := f.outbound[0]
	f.outbound = f.outbound[1:]
	return data, psrpcore.StreamDefault, uuid.UUID{}, true
}

func (f *fakeRunspacePool) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeRunspacePool) SetBroken(rec *psrpcore.ErrorRecord) {}

func (f *fakeRunspacePool) State() psrpcore.RunspacePoolState { return psrpcore.RunspacePoolStateOpened }

func (f *fakeRunspacePool) Host() *psrpcore.HostInfo { return f.host }

func (f *fakeRunspacePool) NewHostRequestor() HostRequestor { return &fakeHostRequestor{} }

// fakePipeline is a hand-written stand-in for the codec's Pipeline.
type fakePipeline struct {
	mu       sync.Mutex
	id       uuid.UUID
	state    psrpcore.PSInvocationState
	outputs  []interface{}
	errors   []psrpcore.WriteErrorOptions
	metadata *psrpcore.PipelineMetadata

	onWriteOutput func(obj interface{})
}

func newFakePipeline(id uuid.UUID) *fakePipeline {
	return &fakePipeline{id: id, state: psrpcore.PSInvocationNotStarted, metadata: &psrpcore.PipelineMetadata{Host: &psrpcore.HostInfo{}}}
}

func (p *fakePipeline) ID() uuid.UUID { return p.id }

func (p *fakePipeline) Start() {
	p.mu.Lock()
	p.state = psrpcore.PSInvocationRunning
	p.mu.Unlock()
}

func (p *fakePipeline) Complete() {
	p.mu.Lock()
	p.state = psrpcore.PSInvocationCompleted
	p.mu.Unlock()
}

func (p *fakePipeline) WriteOutput(obj interface{}) {
	p.mu.Lock()
	p.outputs = append(p.outputs, obj)
	cb := p.onWriteOutput
	p.mu.Unlock()
	if cb != nil {
		cb(obj)
	}
}

func (p *fakePipeline) WriteError(opts psrpcore.WriteErrorOptions) {
	p.mu.Lock()
	p.errors = append(p.errors, opts)
	p.mu.Unlock()
}

func (p *fakePipeline) BeginStop() {
	p.mu.Lock()
	p.state = psrpcore.PSInvocationStopping
	p.mu.Unlock()
}

func (p *fakePipeline) Close() {}

func (p *fakePipeline) ChangeState(state psrpcore.PSInvocationState, rec *psrpcore.ErrorRecord) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *fakePipeline) State() psrpcore.PSInvocationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePipeline) Metadata() *psrpcore.PipelineMetadata { return p.metadata }

func (p *fakePipeline) NewHostRequestor() HostRequestor { return &fakeHostRequestor{} }

// fakeHostRequestor never actually reaches a client; tests that need a
// response call Resolve directly against the worker's host store.
type fakeHostRequestor struct {
	mu     sync.Mutex
	nextID int64
}

func (h *fakeHostRequestor) WriteLine(line string, fg, bg *psrpcore.ConsoleColor) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID, nil
}

func (h *fakeHostRequestor) PromptForCredential(caption, message string, username, targetName *string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID, nil
}
