// Package server implements the out-of-process PSRP transport: the read
// loop that demultiplexes envelope packets onto a runspace pool and its
// pipelines, and the worker goroutines (one per runspace pool, one per
// pipeline, one per running script) that drive them. It is grounded on
// the source's OutOfProcTransport/RunspaceThread/PipelineThread trio in
// original_source/PythonForge/psrp_server/_server.py, reshaped around
// goroutines, channels and a mutex instead of Python threads, a
// queue.Queue and a threading.Lock.
package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	psrpcore "github.com/smnsjas/go-psrpcore/server"

	"github.com/smnsjas/psrp-outofproc-server/internal/wireframe"
)

// readChunkSize is how much raw data Transport asks the Connection for
// per Read call before re-scanning its buffer for a newline-delimited
// envelope. It does not bound packet size; packets larger than this
// simply accumulate across several reads.
const readChunkSize = 8192

// Transport owns the byte connection, the single runspace pool it backs,
// and every pipeline spawned against that pool.
type Transport struct {
	conn   wireframe.Connection
	logger *slog.Logger

	writeMu sync.Mutex

	codecMu sync.Mutex
	pool    RunspacePool

	runspaceWorker *runspaceWorker

	mu        sync.Mutex
	pipelines map[uuid.UUID]*pipelineWorker
}

// NewTransport builds a Transport around conn. Call Serve to run it.
func NewTransport(conn wireframe.Connection, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		conn:      conn,
		logger:    logger,
		pool:      newRunspacePool(),
		pipelines: make(map[uuid.UUID]*pipelineWorker),
	}
	t.runspaceWorker = newRunspaceWorker(t)
	return t
}

// Serve opens the connection, starts the runspace worker, and runs the
// read loop until the peer closes the connection or a transport-level
// error occurs.
func (t *Transport) Serve() error {
	if err := t.conn.Open(); err != nil {
		return fmt.Errorf("server: open connection: %w", err)
	}
	defer func() {
		_ = t.conn.Close()
	}()

	go t.runspaceWorker.run()
	defer t.shutdownPipelines()

	return t.readLoop()
}

func (t *Transport) shutdownPipelines() {
	t.mu.Lock()
	workers := make([]*pipelineWorker, 0, len(t.pipelines))
	for _, w := range t.pipelines {
		workers = append(workers, w)
	}
	t.mu.Unlock()
	for _, w := range workers {
		w.shutdown()
	}
	t.runspaceWorker.flush()
	t.runspaceWorker.shutdown()
}

func (t *Transport) readLoop() error {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		n, err := t.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := buf[:idx]
				buf = buf[idx+1:]
				if len(line) == 0 {
					continue
				}
				if handleErr := t.handleLine(line); handleErr != nil {
					t.logger.Error("handle packet", "error", handleErr)
				}
			}
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (t *Transport) handleLine(line []byte) error {
	pkt, err := wireframe.Decode(line)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodecFailure, err)
	}

	switch pkt.Tag {
	case wireframe.TagCommand:
		return t.handleCommand(pkt)
	case wireframe.TagData:
		return t.handleData(pkt)
	case wireframe.TagSignal:
		return t.handleSignal(pkt)
	case wireframe.TagClose:
		return t.handleClose(pkt)
	default:
		t.logger.Warn("unexpected inbound tag", "tag", pkt.Tag)
		return nil
	}
}

func (t *Transport) handleCommand(pkt wireframe.Packet) error {
	pipeline, err := newPipeline(t.pool, pkt.PSGuid)
	if err != nil {
		t.writeGUIDPacket(wireframe.TagCommandAck, pkt.PSGuid)
		return err
	}
	w := newPipelineWorker(pkt.PSGuid, pipeline, t)

	t.mu.Lock()
	t.pipelines[pkt.PSGuid] = w
	t.mu.Unlock()

	go w.run()

	t.writeGUIDPacket(wireframe.TagCommandAck, pkt.PSGuid)
	return nil
}

func (t *Transport) handleData(pkt wireframe.Packet) error {
	t.writeGUIDPacket(wireframe.TagDataAck, pkt.PSGuid)
	t.runspaceWorker.receiveData(pkt.Payload, toCodecStream(pkt.Stream), pkt.PSGuid)
	return nil
}

func (t *Transport) handleSignal(pkt wireframe.Packet) error {
	if w, ok := t.pipeline(pkt.PSGuid); ok {
		w.signalStop()
	} else {
		t.logger.Warn("signal for unknown pipeline", "pipeline", pkt.PSGuid)
	}
	t.writeGUIDPacket(wireframe.TagSignalAck, pkt.PSGuid)
	return nil
}

func (t *Transport) handleClose(pkt wireframe.Packet) error {
	if pkt.PSGuid == wireframe.NullGUID {
		t.mu.Lock()
		workers := make([]*pipelineWorker, 0, len(t.pipelines))
		for _, w := range t.pipelines {
			workers = append(workers, w)
		}
		t.mu.Unlock()
		for _, w := range workers {
			w.shutdown()
		}
		t.codecMu.Lock()
		t.pool.Close()
		t.codecMu.Unlock()
		t.runspaceWorker.flush()
		t.writeGUIDPacket(wireframe.TagCloseAck, pkt.PSGuid)
		return nil
	}

	w, ok := t.pipeline(pkt.PSGuid)
	if !ok {
		t.writeGUIDPacket(wireframe.TagCloseAck, pkt.PSGuid)
		return ErrUnknownPipeline
	}
	w.shutdown()
	t.runspaceWorker.flush()

	t.mu.Lock()
	delete(t.pipelines, pkt.PSGuid)
	t.mu.Unlock()

	t.writeGUIDPacket(wireframe.TagCloseAck, pkt.PSGuid)
	return nil
}

func (t *Transport) pipeline(id uuid.UUID) (*pipelineWorker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.pipelines[id]
	return w, ok
}

// dispatchEvent routes a codec event produced while draining the pool to
// the pipeline worker it concerns, or resolves a pool-scoped host
// response directly.
func (t *Transport) dispatchEvent(ev psrpcore.Event) {
	switch e := ev.(type) {
	case *psrpcore.RunspacePoolHostResponseEvent:
		t.logger.Debug("runspace pool host response", "callID", e.CallID, "result", e.Result)
		t.runspaceWorker.hostStore.Resolve(e.CallID, e.Result, hostResponseErr(e.Error))
	case *psrpcore.CreatePipelineEvent:
		t.forwardToPipeline(e.PipelineID, ev)
	case *psrpcore.PipelineInputEvent:
		t.forwardToPipeline(e.PipelineID, ev)
	case *psrpcore.EndOfPipelineInputEvent:
		t.forwardToPipeline(e.PipelineID, ev)
	case *psrpcore.PipelineHostResponseEvent:
		t.forwardToPipeline(e.PipelineID, ev)
	default:
		t.logger.Warn("unhandled codec event", "type", fmt.Sprintf("%T", ev))
	}
}

func (t *Transport) forwardToPipeline(id uuid.UUID, ev psrpcore.Event) {
	w, ok := t.pipeline(id)
	if !ok {
		t.logger.Error("event for unknown pipeline", "pipeline", id)
		return
	}
	w.post(ev)
}

// writeGUIDPacket encodes and sends a tag-only packet under the write
// mutex, the single serialization point for outbound bytes the
// concurrency model requires.
func (t *Transport) writeGUIDPacket(tag wireframe.Tag, guid uuid.UUID) {
	t.send(wireframe.EncodeGUIDPacket(tag, guid))
}

func (t *Transport) writeData(payload []byte, stream wireframe.StreamType, guid uuid.UUID) {
	t.send(wireframe.EncodeData(payload, stream, guid))
}

func (t *Transport) send(encoded []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.Send(encoded); err != nil {
		t.logger.Error("send failed", "error", err)
	}
}

func toCodecStream(s wireframe.StreamType) psrpcore.StreamType {
	if s == wireframe.StreamPromptResponse {
		return psrpcore.StreamPromptResponse
	}
	return psrpcore.StreamDefault
}

func fromCodecStream(s psrpcore.StreamType) wireframe.StreamType {
	if s == psrpcore.StreamPromptResponse {
		return wireframe.StreamPromptResponse
	}
	return wireframe.StreamDefault
}

func hostResponseErr(rec *psrpcore.ErrorRecord) error {
	if rec == nil {
		return nil
	}
	if rec.Exception != nil && rec.Exception.Message != "" {
		return fmt.Errorf("%w: %s", ErrHostCallFailed, rec.Exception.Message)
	}
	return ErrHostCallFailed
}
