package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
)

type fakeStream struct {
	mu         sync.Mutex
	writes     [][]byte
	closed     bool
	closeCalls int
	err        error
	hang       <-chan struct{}

	results   chan transcriber.Event
	closeOnce sync.Once
}

func newFakeStream(hang <-chan struct{}) *fakeStream {
	return &fakeStream{results: make(chan transcriber.Event, 32), hang: hang}
}

func (s *fakeStream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transcriber.ErrStreamNotOpen
	}
	s.writes = append(s.writes, append([]byte(nil), chunk...))
	return nil
}

func (s *fakeStream) Results() <-chan transcriber.Event { return s.results }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.closed = true
	hang := s.hang
	s.mu.Unlock()
	if hang != nil {
		<-hang
	}
	s.closeOnce.Do(func() { close(s.results) })
	return nil
}

func (s *fakeStream) ModelInfo() string { return "fake-model" }

func (s *fakeStream) emit(ev transcriber.Event) {
	s.results <- ev
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.results) })
}

func (s *fakeStream) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type fakeProvider struct {
	kind    transcriber.Kind
	openErr error
	delay   time.Duration
	hang    <-chan struct{}

	mu      sync.Mutex
	streams []*fakeStream
}

func (p *fakeProvider) Kind() transcriber.Kind { return p.kind }

func (p *fakeProvider) OpenStream(_ context.Context, _ string, _ transcriber.ProviderConfig) (transcriber.Stream, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := newFakeStream(p.hang)
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

func (p *fakeProvider) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (p *fakeProvider) stream(i int) *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[i]
}

type fakeWriter struct {
	mu        sync.Mutex
	next      int
	partials  []repository.RecordPartialInput
	finals    []repository.RecordFinalInput
	finalIDs  map[string]bool
	failFinal error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{finalIDs: make(map[string]bool)}
}

func (w *fakeWriter) RecordPartial(_ context.Context, input repository.RecordPartialInput) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partials = append(w.partials, input)
	if input.ExistingID != "" {
		return input.ExistingID, nil
	}
	w.next++
	return fmt.Sprintf("utt-%d", w.next), nil
}

func (w *fakeWriter) RecordFinal(_ context.Context, input repository.RecordFinalInput) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failFinal != nil {
		return "", w.failFinal
	}
	w.finals = append(w.finals, input)
	id := input.ExistingPartialID
	if id == "" {
		w.next++
		id = fmt.Sprintf("utt-%d", w.next)
	}
	w.finalIDs[id] = true
	return id, nil
}

func (w *fakeWriter) hasFinal(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalIDs[id]
}

func (w *fakeWriter) finalCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.finals)
}

type emitted struct {
	event   string
	payload any
	room    string
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []emitted
	onEmit func(emitted)
}

func (b *recordingBroadcaster) Emit(event string, payload any, roomID string) {
	e := emitted{event: event, payload: payload, room: roomID}
	if b.onEmit != nil {
		b.onEmit(e)
	}
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) byEvent(event string) []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []emitted
	for _, e := range b.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBroadcaster) partialTexts() []string {
	var out []string
	for _, e := range b.byEvent(room.EventPartial) {
		out = append(out, e.payload.(room.PartialPayload).Text)
	}
	return out
}

type toggleMute struct {
	active atomic.Bool
	calls  atomic.Int32
}

func (m *toggleMute) IsActive(context.Context, string) bool {
	m.calls.Add(1)
	return m.active.Load()
}

type denyAuthorizer struct{}

func (denyAuthorizer) IsAuthorized(context.Context, string, string) (bool, error) { return false, nil }

type recordingNotifier struct {
	mu      sync.Mutex
	stopped []Stopped
	errs    []*transcriber.Error
}

func (n *recordingNotifier) NotifyStopped(_ Key, s Stopped) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, s)
}

func (n *recordingNotifier) NotifyError(_ Key, _ string, err *transcriber.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) stoppedEvents() []Stopped {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Stopped(nil), n.stopped...)
}

func (n *recordingNotifier) errorEvents() []*transcriber.Error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*transcriber.Error(nil), n.errs...)
}

type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, c.nanos.Load()) }

func (c *fakeClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

type testEnv struct {
	reg         *Registry
	provider    *fakeProvider
	writer      *fakeWriter
	broadcaster *recordingBroadcaster
	mute        *toggleMute
	notifier    *recordingNotifier
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	opts.Enabled = true
	if opts.StopGrace == 0 {
		opts.StopGrace = 500 * time.Millisecond
	}
	env := &testEnv{
		provider:    &fakeProvider{kind: transcriber.KindOffline},
		writer:      newFakeWriter(),
		broadcaster: &recordingBroadcaster{},
		mute:        &toggleMute{},
		notifier:    &recordingNotifier{},
	}
	env.reg = NewRegistry(opts, Dependencies{
		Providers:   transcriber.NewProviderSet(transcriber.KindOffline, env.provider),
		Writer:      env.writer,
		Broadcaster: env.broadcaster,
		Mute:        env.mute,
	})
	env.reg.SetNotifier(env.notifier)
	return env
}

var testKey = Key{Room: "room-1", Participant: "alice"}

func (e *testEnv) start(t *testing.T, force bool) Ready {
	t.Helper()
	ready, err := e.reg.Start(context.Background(), StartRequest{
		Key:    testKey,
		Config: transcriber.ProviderConfig{Language: "en-US", SampleRateHz: 16000},
		Force:  force,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return ready
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

var errBoom = errors.New("boom")
