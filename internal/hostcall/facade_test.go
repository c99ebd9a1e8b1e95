package hostcall

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequestor struct {
	nextCallID int64
	lines      []string
}

func (f *fakeRequestor) WriteLine(line string) (int64, error) {
	f.lines = append(f.lines, line)
	f.nextCallID++
	return f.nextCallID, nil
}

func (f *fakeRequestor) PromptForCredential(caption, message string, username, targetName *string) (int64, error) {
	f.nextCallID++
	return f.nextCallID, nil
}

func TestWriteLine_RejectedWhenHostUINull(t *testing.T) {
	store := NewStore()
	req := &fakeRequestor{}
	f := New(Info{IsHostUINull: true}, req, store, nil, func() bool { return false }, nil)

	err := f.WriteLine("hi")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, req.lines)
}

func TestWriteLine_SendsWithoutWaiting(t *testing.T) {
	store := NewStore()
	req := &fakeRequestor{}
	flushed := false
	f := New(Info{}, req, store, func() { flushed = true }, func() bool { return false }, nil)

	require.NoError(t, f.WriteLine("hello"))
	assert.Equal(t, []string{"hello"}, req.lines)
	assert.True(t, flushed)
}

func TestPromptForCredential_ResolvesOnResponse(t *testing.T) {
	store := NewStore()
	req := &fakeRequestor{}
	f := New(Info{}, req, store, func() {}, func() bool { return false }, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		store.Resolve(1, "creds", nil)
	}()

	v, err := f.PromptForCredential("c", "m", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "creds", v)
}

func TestPromptForCredential_PropagatesHostError(t *testing.T) {
	store := NewStore()
	req := &fakeRequestor{}
	f := New(Info{}, req, store, func() {}, func() bool { return false }, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		store.Resolve(1, nil, assertErr)
	}()

	_, err := f.PromptForCredential("c", "m", nil, nil)
	assert.ErrorIs(t, err, ErrFailed)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestPromptForCredential_AbandonedCallsStop(t *testing.T) {
	store := NewStore()
	req := &fakeRequestor{}
	var stopped atomic.Bool
	var running atomic.Bool
	running.Store(true)

	f := New(Info{}, req, store, func() {}, func() bool { return !running.Load() }, func() { stopped.Store(true) })

	go func() {
		time.Sleep(10 * time.Millisecond)
		running.Store(false)
		store.Abandon()
	}()

	_, err := f.PromptForCredential("c", "m", nil, nil)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.True(t, stopped.Load())
}
