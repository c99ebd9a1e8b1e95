package server

import "sync"

// inputBuffer holds pipeline input objects delivered by PipelineInput
// events until the running script's input iterator consumes them. It is
// the Go shape of the source's pipeline_input list plus its
// add_condition: a script blocked reading input waits on cond until
// either a new object arrives or EndOfPipelineInput marks the buffer
// closed.
type inputBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond
	data []interface{}
	done bool
}

func newInputBuffer() *inputBuffer {
	b := &inputBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an input object and wakes any waiting reader.
func (b *inputBuffer) Push(v interface{}) {
	b.mu.Lock()
	b.data = append(b.data, v)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Close marks the buffer closed: no further input will arrive. Waiting
// readers wake and see io.EOF-equivalent behavior once drained.
func (b *inputBuffer) Close() {
	b.mu.Lock()
	b.done = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// WakeAll nudges every blocked Next call to re-check stopped without
// altering the buffer's contents or done flag. The pipeline worker calls
// this when the pipeline starts stopping so a script blocked reading
// input unwinds instead of hanging until end-of-input.
func (b *inputBuffer) WakeAll() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Next blocks until an input object is available, the buffer is closed
// and drained, or stopped reports true (the pipeline left Running while
// the script was waiting). It returns ok=false in the latter two cases.
func (b *inputBuffer) Next(stopped func() bool) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.done {
		if stopped != nil && stopped() {
			return nil, false
		}
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return nil, false
	}
	v := b.data[0]
	b.data = b.data[1:]
	return v, true
}
