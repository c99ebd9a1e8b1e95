package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	psrpcore "github.com/smnsjas/go-psrpcore/server"
	"github.com/stretchr/testify/require"
)

func newTestTransport(pool *fakeRunspacePool) *Transport {
	t := &Transport{
		logger:    slog.Default(),
		pool:      pool,
		pipelines: make(map[uuid.UUID]*pipelineWorker),
	}
	t.runspaceWorker = newRunspaceWorker(t)
	go t.runspaceWorker.run()
	return t
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestPipelineWorker_RunsScriptAndWritesOutput(t *testing.T) {
	pool := &fakeRunspacePool{}
	tr := newTestTransport(pool)
	defer tr.runspaceWorker.shutdown()

	fp := newFakePipeline(uuid.New())
	w := newPipelineWorker(fp.id, fp, tr)
	go w.run()
	defer w.shutdown()

	w.post(&psrpcore.CreatePipelineEvent{
		PipelineID:  fp.id,
		CommandText: `cmdlet.writeOutput(1 + 1)`,
	})

	waitFor(t, func() bool {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		return len(fp.outputs) == 1
	})

	fp.mu.Lock()
	require.Equal(t, int64(2), fp.outputs[0])
	fp.mu.Unlock()

	waitFor(t, func() bool { return fp.State() == psrpcore.PSInvocationCompleted })
}

func TestPipelineWorker_SyntaxErrorFailsPipeline(t *testing.T) {
	pool := &fakeRunspacePool{}
	tr := newTestTransport(pool)
	defer tr.runspaceWorker.shutdown()

	fp := newFakePipeline(uuid.New())
	w := newPipelineWorker(fp.id, fp, tr)
	go w.run()
	defer w.shutdown()

	w.post(&psrpcore.CreatePipelineEvent{
		PipelineID:  fp.id,
		CommandText: `this is not ( valid`,
	})

	waitFor(t, func() bool { return fp.State() == psrpcore.PSInvocationFailed })

	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.Len(t, fp.errors, 0)
}

func TestPipelineWorker_UncaughtExceptionWritesErrorAndCompletes(t *testing.T) {
	pool := &fakeRunspacePool{}
	tr := newTestTransport(pool)
	defer tr.runspaceWorker.shutdown()

	fp := newFakePipeline(uuid.New())
	w := newPipelineWorker(fp.id, fp, tr)
	go w.run()
	defer w.shutdown()

	w.post(&psrpcore.CreatePipelineEvent{
		PipelineID:  fp.id,
		CommandText: `throw new Error("boom")`,
	})

	waitFor(t, func() bool {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		return len(fp.errors) == 1
	})

	fp.mu.Lock()
	require.Equal(t, "UncaughtScriptException", fp.errors[0].FullyQualifiedErrorID)
	require.Equal(t, psrpcore.CategoryNotSpecified, fp.errors[0].CategoryInfo.Category)
	fp.mu.Unlock()

	waitFor(t, func() bool { return fp.State() == psrpcore.PSInvocationCompleted })
}

func TestPipelineWorker_StopSignalUnwindsInputWait(t *testing.T) {
	pool := &fakeRunspacePool{}
	tr := newTestTransport(pool)
	defer tr.runspaceWorker.shutdown()

	fp := newFakePipeline(uuid.New())
	w := newPipelineWorker(fp.id, fp, tr)
	go w.run()
	defer w.shutdown()

	w.post(&psrpcore.CreatePipelineEvent{
		PipelineID: fp.id,
		CommandText: `
			while (true) {
				const item = cmdlet.input.next();
				if (item.done) { break; }
			}
		`,
	})

	waitFor(t, func() bool { return fp.State() == psrpcore.PSInvocationRunning })

	w.signalStop()

	waitFor(t, func() bool { return fp.State() == psrpcore.PSInvocationStopped })
}
