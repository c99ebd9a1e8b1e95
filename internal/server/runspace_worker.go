package server

import (
	"sync"

	"github.com/google/uuid"
	psrpcore "github.com/smnsjas/go-psrpcore/server"

	"github.com/smnsjas/psrp-outofproc-server/internal/hostcall"
)

type runspaceWorkKind int

const (
	runspaceWorkReceiveData runspaceWorkKind = iota
	runspaceWorkFlush
	runspaceWorkShutdown
)

type runspaceWork struct {
	kind    runspaceWorkKind
	payload []byte
	stream  psrpcore.StreamType
	target  uuid.UUID
	done    chan struct{}
}

// runspaceWorker is the single goroutine that owns the runspace pool
// codec object, grounded on the source's RunspaceThread. Every call into
// the pool — receiving data, draining events, draining outbound bytes —
// happens here; other goroutines post work items or call flush, which
// blocks until this goroutine has drained the pool's outbound buffer on
// their behalf. The one exception is the pool's Close, which the read
// loop calls directly under codecMu when the client closes the pool.
type runspaceWorker struct {
	t            *Transport
	work         chan runspaceWork
	hostStore    *hostcall.Store
	shutdownOnce sync.Once
}

func newRunspaceWorker(t *Transport) *runspaceWorker {
	return &runspaceWorker{
		t:         t,
		work:      make(chan runspaceWork, 32),
		hostStore: hostcall.NewStore(),
	}
}

func (w *runspaceWorker) run() {
	for item := range w.work {
		switch item.kind {
		case runspaceWorkReceiveData:
			w.t.codecMu.Lock()
			err := w.t.pool.ReceiveData(item.payload, item.stream, item.target)
			w.t.codecMu.Unlock()
			if err != nil {
				w.t.logger.Error("pool receive data", "error", err)
			} else {
				w.drainEvents()
			}
			w.drainOutbound()
			closeIfSet(item.done)
		case runspaceWorkFlush:
			w.drainOutbound()
			closeIfSet(item.done)
		case runspaceWorkShutdown:
			closeIfSet(item.done)
			return
		}
	}
}

func (w *runspaceWorker) drainEvents() {
	for {
		w.t.codecMu.Lock()
		ev, ok := w.t.pool.NextEvent()
		w.t.codecMu.Unlock()
		if !ok {
			return
		}
		w.t.dispatchEvent(ev)
	}
}

func (w *runspaceWorker) drainOutbound() {
	for {
		w.t.codecMu.Lock()
		payload, stream, target, ok := w.t.pool.DataToSend()
		w.t.codecMu.Unlock()
		if !ok {
			return
		}
		w.t.writeData(payload, fromCodecStream(stream), target)
	}
}

// receiveData enqueues inbound bytes for the pool to decode. It does not
// wait for the pool to process them (it blocks only while the work queue
// is full); the caller (Transport's read loop) finds out about failures
// only through logging, matching the fire-and-forget framing the PSRP
// out-of-process grammar gives Data packets (their only synchronous
// acknowledgement is the transport-level DataAck, already sent).
func (w *runspaceWorker) receiveData(payload []byte, stream psrpcore.StreamType, target uuid.UUID) {
	w.work <- runspaceWork{kind: runspaceWorkReceiveData, payload: payload, stream: stream, target: target}
}

// flush blocks until this worker has drained every byte the pool
// currently has queued to send. Callers (the Host Facade, a pipeline
// finishing) use it to guarantee the client has actually received a
// message before waiting on or assuming a response to it.
func (w *runspaceWorker) flush() {
	done := make(chan struct{})
	w.work <- runspaceWork{kind: runspaceWorkFlush, done: done}
	<-done
}

func (w *runspaceWorker) shutdown() {
	w.shutdownOnce.Do(func() {
		done := make(chan struct{})
		w.work <- runspaceWork{kind: runspaceWorkShutdown, done: done}
		<-done
	})
}

func closeIfSet(ch chan struct{}) {
	if ch != nil {
		close(ch)
	}
}
