package server

import (
	"errors"

	"github.com/google/uuid"
	psrpcore "github.com/smnsjas/go-psrpcore/server"

	"github.com/smnsjas/psrp-outofproc-server/internal/hostcall"
	"github.com/smnsjas/psrp-outofproc-server/internal/scripting"
)

// guardedPipeline serializes every call into a codec Pipeline object
// behind Transport's codecMu, since the codec's pipeline and runspace
// pool share state and are not assumed safe for concurrent access. It
// implements pipelineOps so a CmdletFacade running on the script
// subthread can call it directly without knowing about locking.
type guardedPipeline struct {
	t *Transport
	p Pipeline
}

func (g *guardedPipeline) State() psrpcore.PSInvocationState {
	g.t.codecMu.Lock()
	defer g.t.codecMu.Unlock()
	return g.p.State()
}

func (g *guardedPipeline) WriteOutput(obj interface{}) {
	g.t.codecMu.Lock()
	g.p.WriteOutput(obj)
	g.t.codecMu.Unlock()
	g.t.runspaceWorker.flush()
}

func (g *guardedPipeline) WriteError(opts psrpcore.WriteErrorOptions) {
	g.t.codecMu.Lock()
	g.p.WriteError(opts)
	g.t.codecMu.Unlock()
	g.t.runspaceWorker.flush()
}

func (g *guardedPipeline) Start() {
	g.t.codecMu.Lock()
	g.p.Start()
	g.t.codecMu.Unlock()
}

func (g *guardedPipeline) Complete() {
	g.t.codecMu.Lock()
	g.p.Complete()
	g.t.codecMu.Unlock()
	g.t.runspaceWorker.flush()
}

func (g *guardedPipeline) BeginStop() {
	g.t.codecMu.Lock()
	g.p.BeginStop()
	g.t.codecMu.Unlock()
}

func (g *guardedPipeline) ChangeState(state psrpcore.PSInvocationState, rec *psrpcore.ErrorRecord) {
	g.t.codecMu.Lock()
	g.p.ChangeState(state, rec)
	g.t.codecMu.Unlock()
}

func (g *guardedPipeline) Metadata() *psrpcore.PipelineMetadata {
	g.t.codecMu.Lock()
	defer g.t.codecMu.Unlock()
	return g.p.Metadata()
}

func (g *guardedPipeline) NewHostRequestor() HostRequestor {
	g.t.codecMu.Lock()
	defer g.t.codecMu.Unlock()
	return g.p.NewHostRequestor()
}

func (g *guardedPipeline) Close() {
	g.t.codecMu.Lock()
	g.p.Close()
	g.t.codecMu.Unlock()
}

// pipelineWorker is the per-pipeline goroutine grounded on the source's
// PipelineThread: it owns the pipeline's input buffer and host-call
// result store, processes codec events routed to it by the runspace
// worker, and spawns the script subthread once CreatePipeline arrives.
type pipelineWorker struct {
	id       uuid.UUID
	pipeline *guardedPipeline
	t        *Transport

	input     *inputBuffer
	hostStore *hostcall.Store

	events chan interface{}
	done   chan struct{}
}

func newPipelineWorker(id uuid.UUID, pipeline Pipeline, t *Transport) *pipelineWorker {
	return &pipelineWorker{
		id:        id,
		pipeline:  &guardedPipeline{t: t, p: pipeline},
		t:         t,
		input:     newInputBuffer(),
		hostStore: hostcall.NewStore(),
		events:    make(chan interface{}, 16),
		done:      make(chan struct{}),
	}
}

// post delivers a codec event (routed here by the runspace worker) for
// this pipeline to process.
func (w *pipelineWorker) post(ev interface{}) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// signalStop marks the pipeline as stopping: the running script's next
// write/input-read call unwinds cooperatively instead of completing.
func (w *pipelineWorker) signalStop() {
	w.post(stopSignalEvent{})
}

type stopSignalEvent struct{}

func (w *pipelineWorker) run() {
	for {
		select {
		case ev := <-w.events:
			switch e := ev.(type) {
			case *psrpcore.CreatePipelineEvent:
				w.handleCreate(e)
			case *psrpcore.PipelineInputEvent:
				w.input.Push(e.Data)
			case *psrpcore.EndOfPipelineInputEvent:
				w.input.Close()
			case *psrpcore.PipelineHostResponseEvent:
				w.t.logger.Debug("pipeline host response", "callID", e.CallID, "result", e.Result)
				w.hostStore.Resolve(e.CallID, e.Result, hostResponseErr(e.Error))
			case stopSignalEvent:
				w.pipeline.BeginStop()
				w.input.WakeAll()
				w.hostStore.Abandon()
			}
		case <-w.done:
			return
		}
	}
}

func (w *pipelineWorker) shutdown() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.pipeline.Close()
}

func (w *pipelineWorker) handleCreate(e *psrpcore.CreatePipelineEvent) {
	w.pipeline.Start()

	args, params := splitParameters(e.Parameters)

	info := hostcall.Info{}
	if meta := w.pipeline.Metadata(); meta != nil && meta.Host != nil {
		info = hostcall.Info{
			IsHostUINull:    meta.Host.IsHostUINull,
			IsHostRawUINull: meta.Host.IsHostRawUINull,
		}
	}

	// The Host Facade always binds to this pipeline's own host requestor
	// and result store; the metadata's UseRunspaceHost setting is not
	// consulted, so host calls never go through the runspace pool's host.
	requestor := newHostRequestorAdapter(w.pipeline.NewHostRequestor())
	host := hostcall.New(
		info,
		requestor,
		w.hostStore,
		w.t.runspaceWorker.flush,
		func() bool { return w.pipeline.State() != psrpcore.PSInvocationRunning },
		scripting.Stop,
	)

	facade := newCmdletFacade(w.pipeline, host, w.input, args, params)

	go w.runScript(e.CommandText, facade)
}

func (w *pipelineWorker) runScript(script string, facade *CmdletFacade) {
	engine := scripting.New()
	err := engine.Run(script, facade)

	var syntaxErr *scripting.SyntaxError
	switch {
	case err == nil:
		w.pipeline.ChangeState(psrpcore.PSInvocationCompleted, nil)
		w.pipeline.Complete()
	case errors.Is(err, scripting.ErrCooperativeStop):
		// Stopping a pipeline is terminal on its own; no write_error and
		// no further Complete(), matching _server.py's handling of
		// SystemExit from a stopped script.
		w.pipeline.ChangeState(psrpcore.PSInvocationStopped, nil)
	case errors.As(err, &syntaxErr):
		// A script that never compiled never ran, so it never reached the
		// point of producing output; the pipeline fails outright rather
		// than completing with an error record.
		w.pipeline.ChangeState(psrpcore.PSInvocationFailed, &psrpcore.ErrorRecord{
			Exception:             &psrpcore.NETException{Message: err.Error()},
			FullyQualifiedErrorID: "InvalidScriptSyntax",
			CategoryInfo:          psrpcore.ErrorCategoryInfo{Category: psrpcore.CategoryParserError},
		})
	default:
		// Any other execution failure is a non-terminating error: the
		// pipeline still completes, it just carries an error record for
		// the uncaught exception, mirroring _server.py's bare except
		// Exception branch (write_error then complete, never Failed).
		w.pipeline.WriteError(psrpcore.WriteErrorOptions{
			Exception:             newWriteErrorException(err.Error()),
			FullyQualifiedErrorID: "UncaughtScriptException",
			CategoryInfo:          psrpcore.ErrorCategoryInfo{Category: psrpcore.CategoryNotSpecified},
		})
		w.pipeline.Complete()
	}
}

// splitParameters separates a CreatePipeline command's parameters into
// the script's positional args (unnamed) and named params, the JS-facing
// shape cmdlet.args/cmdlet.params expose.
func splitParameters(params []psrpcore.CommandParameter) ([]interface{}, map[string]interface{}) {
	args := make([]interface{}, 0, len(params))
	named := make(map[string]interface{})
	for _, p := range params {
		if p.Name == nil {
			args = append(args, p.Value)
			continue
		}
		named[*p.Name] = p.Value
	}
	return args, named
}
