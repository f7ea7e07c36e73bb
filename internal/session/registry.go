package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/mailbox"
	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
	"github.com/broadcomms/brainstormx-transcribe/internal/webhook"
	"github.com/google/uuid"
)

const (
	defaultStaleAfter = 30 * time.Second
	defaultStopGrace  = 1500 * time.Millisecond
	defaultQueueSize  = 64
)

type Key struct {
	Room        string
	Participant string
}

func (k Key) String() string {
	return k.Room + ":" + k.Participant
}

type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusStopping Status = "stopping"
)

type StartRequest struct {
	Key    Key
	Config transcriber.ProviderConfig
	// Provider selects the backend; empty means the configured default.
	Provider transcriber.Kind
	Force    bool
}

type Options struct {
	Enabled         bool
	StaleAfter      time.Duration
	StopGrace       time.Duration
	QueueSize       int
	PersistPartials bool
}

type Dependencies struct {
	Providers   *transcriber.ProviderSet
	Writer      repository.TranscriptWriter
	Broadcaster room.Broadcaster
	Mute        room.MuteState
	Authorizer  room.Authorizer
	Webhook     webhook.Sender
	Metrics     *metrics.Metrics
}

// SessionInfo is a point-in-time view of one live session.
type SessionInfo struct {
	Room         string    `json:"room"`
	Participant  string    `json:"participant"`
	SessionID    string    `json:"session_id"`
	Provider     string    `json:"provider"`
	Status       Status    `json:"status"`
	Partials     int64     `json:"partials"`
	Finals       int64     `json:"finals"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

type state struct {
	key       Key
	id        string
	provider  transcriber.Kind
	startedAt time.Time

	// guarded by Registry.mu
	status Status

	// stream is written once before opened is closed.
	stream transcriber.Stream
	opened chan struct{}

	inbox *mailbox.Mailbox[[]byte]

	seqMu     sync.Mutex
	highWater int64
	hasSeq    bool

	lastActivity atomic.Int64
	partials     atomic.Int64
	finals       atomic.Int64
	faulted      atomic.Bool
	reported     atomic.Bool

	// done is closed when the result stream has terminated.
	done     chan struct{}
	doneOnce sync.Once
	// stopped is closed after the entry has been torn down and reported.
	stopped     chan struct{}
	stoppedOnce sync.Once
}

func (st *state) touch(now time.Time) {
	st.lastActivity.Store(now.UnixNano())
}

func (st *state) finishResults() {
	st.doneOnce.Do(func() { close(st.done) })
}

func (st *state) markStopped() {
	st.stoppedOnce.Do(func() { close(st.stopped) })
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type Registry struct {
	opts      Options
	providers *transcriber.ProviderSet
	writer    repository.TranscriptWriter
	rooms     room.Broadcaster
	mute      room.MuteState
	auth      room.Authorizer
	webhook   webhook.Sender
	metrics   *metrics.Metrics
	now       func() time.Time

	notifierMu sync.RWMutex
	notifier   Notifier

	mu       sync.Mutex
	sessions map[Key]*state
	keyLocks map[Key]*keyLock
}

func NewRegistry(opts Options, deps Dependencies) *Registry {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if deps.Mute == nil {
		deps.Mute = room.NoMute()
	}
	if deps.Authorizer == nil {
		deps.Authorizer = room.AllowAll()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = room.Fanout(nil)
	}
	return &Registry{
		opts:      opts,
		providers: deps.Providers,
		writer:    deps.Writer,
		rooms:     deps.Broadcaster,
		mute:      deps.Mute,
		auth:      deps.Authorizer,
		webhook:   deps.Webhook,
		metrics:   deps.Metrics,
		now:       time.Now,
		notifier:  noopNotifier{},
		sessions:  make(map[Key]*state),
		keyLocks:  make(map[Key]*keyLock),
	}
}

func (r *Registry) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	r.notifierMu.Lock()
	r.notifier = n
	r.notifierMu.Unlock()
}

func (r *Registry) notify() Notifier {
	r.notifierMu.RLock()
	defer r.notifierMu.RUnlock()
	return r.notifier
}

// Start opens a session for req.Key or returns the healthy one already
// running. Errors are always *transcriber.Error.
func (r *Registry) Start(ctx context.Context, req StartRequest) (Ready, error) {
	key := req.Key
	if !r.opts.Enabled {
		return Ready{}, transcriber.NewError(transcriber.CodeFeatureDisabled, "transcription is disabled")
	}
	if key.Room == "" || key.Participant == "" {
		return Ready{}, transcriber.NewError(transcriber.CodeUnauthorized, "room and participant are required")
	}
	ok, err := r.auth.IsAuthorized(ctx, key.Room, key.Participant)
	if err != nil {
		return Ready{}, transcriber.Wrap(transcriber.CodeUnauthorized, "authorization check failed", err)
	}
	if !ok {
		return Ready{}, transcriber.NewError(transcriber.CodeUnauthorized, "participant is not a member of the room")
	}
	provider, err := r.providers.Select(req.Provider)
	if err != nil {
		return Ready{}, err
	}

	unlock := r.lockKey(key)
	defer unlock()

	outcome := startOutcomeCreated
	r.mu.Lock()
	if existing, ok := r.sessions[key]; ok {
		if !req.Force && existing.status == StatusActive && r.healthy(existing) {
			r.mu.Unlock()
			slog.Info("reusing active transcription session", "session_key", key.String(), "session_id", existing.id)
			r.recordStart(existing.provider, startOutcomeReused)
			return Ready{SessionID: existing.id, Provider: existing.provider, ModelInfo: existing.stream.ModelInfo(), Reused: true}, nil
		}
		delete(r.sessions, key)
		wasStopping := existing.status == StatusStopping
		existing.status = StatusStopping
		r.mu.Unlock()
		outcome = startOutcomeReplaced
		slog.Info("replacing transcription session", "session_key", key.String(), "session_id", existing.id, "force", req.Force, "was_stopping", wasStopping)
		if !wasStopping {
			go r.teardown(existing)
			go r.awaitStop(existing, stopReasonReplaced)
		}
		r.mu.Lock()
	}
	st := r.newState(key, provider.Kind())
	r.sessions[key] = st
	r.mu.Unlock()
	r.gaugeSessions()

	begin := r.now()
	stream, err := provider.OpenStream(ctx, st.id, req.Config)
	if r.metrics != nil {
		r.metrics.ObserveHandshake(string(provider.Kind()), r.now().Sub(begin).Seconds())
	}
	if err != nil {
		close(st.opened)
		st.inbox.Close()
		st.finishResults()
		st.markStopped()
		r.remove(st)
		terr := transcriber.Wrap(transcriber.CodeProviderInitFailed, "failed to open provider stream", err)
		r.recordStart(provider.Kind(), startOutcomeFailed)
		r.recordProviderError(provider.Kind(), terr.Code)
		slog.Error("failed to open transcription stream", "error", err, "session_key", key.String(), "provider", string(provider.Kind()))
		return Ready{}, terr
	}

	r.mu.Lock()
	st.stream = stream
	close(st.opened)
	if st.status == StatusStarting {
		st.status = StatusActive
	}
	r.mu.Unlock()
	st.touch(r.now())

	go r.runIngest(st)
	go r.runEmitter(st)

	r.recordStart(provider.Kind(), outcome)
	slog.Info("transcription session started",
		"session_key", key.String(),
		"session_id", st.id,
		"provider", string(provider.Kind()),
		"language", req.Config.Language,
		"sample_rate_hz", req.Config.SampleRateHz,
		"outcome", outcome)
	return Ready{SessionID: st.id, Provider: provider.Kind(), ModelInfo: stream.ModelInfo()}, nil
}

// AudioChunk hands one PCM chunk to the session's engine. It never blocks on
// the engine. data must not be modified after the call.
func (r *Registry) AudioChunk(key Key, seq int64, data []byte) error {
	r.mu.Lock()
	st, ok := r.sessions[key]
	var status Status
	if ok {
		status = st.status
	}
	r.mu.Unlock()
	if !ok || status == StatusStopping {
		r.recordChunkDropped("no_session")
		return transcriber.ErrNoActiveSession
	}
	if len(data) == 0 {
		r.recordChunkDropped("malformed")
		return transcriber.ErrMalformedChunk
	}
	r.ingest(st, seq, data)
	return nil
}

// Stop acknowledges immediately; the stopped notification follows once the
// engine terminates or the stop grace period expires.
func (r *Registry) Stop(key Key) StopAck {
	ack := StopAck{Room: key.Room, Participant: key.Participant}
	r.mu.Lock()
	st, ok := r.sessions[key]
	if !ok || st.status == StatusStopping {
		r.mu.Unlock()
		return ack
	}
	st.status = StatusStopping
	r.mu.Unlock()

	slog.Info("stopping transcription session", "session_key", key.String(), "session_id", st.id)
	go r.teardown(st)
	go r.awaitStop(st, stopReasonRequested)
	return ack
}

// StopAll stops every live session and waits until each is reported stopped
// or ctx is done.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	live := make([]*state, 0, len(r.sessions))
	for _, st := range r.sessions {
		live = append(live, st)
		if st.status == StatusStopping {
			continue
		}
		st.status = StatusStopping
		go r.teardown(st)
		go r.awaitStop(st, stopReasonShutdown)
	}
	r.mu.Unlock()

	slog.Info("stopping all transcription sessions", "count", len(live))
	for _, st := range live {
		select {
		case <-st.stopped:
		case <-ctx.Done():
			return fmt.Errorf("stop all sessions: %w", ctx.Err())
		}
	}
	return nil
}

func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for key, st := range r.sessions {
		out = append(out, SessionInfo{
			Room:         key.Room,
			Participant:  key.Participant,
			SessionID:    st.id,
			Provider:     string(st.provider),
			Status:       st.status,
			Partials:     st.partials.Load(),
			Finals:       st.finals.Load(),
			StartedAt:    st.startedAt,
			LastActivity: time.Unix(0, st.lastActivity.Load()),
		})
	}
	return out
}

func (r *Registry) newState(key Key, kind transcriber.Kind) *state {
	now := r.now()
	st := &state{
		key:       key,
		id:        uuid.NewString(),
		provider:  kind,
		startedAt: now,
		status:    StatusStarting,
		opened:    make(chan struct{}),
		inbox:     mailbox.New[[]byte](r.opts.QueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	st.touch(now)
	return st
}

// healthy must be called with r.mu held.
func (r *Registry) healthy(st *state) bool {
	if st.faulted.Load() {
		return false
	}
	last := time.Unix(0, st.lastActivity.Load())
	return r.now().Sub(last) <= r.opts.StaleAfter
}

// remove deletes st only if it is still the registered entry for its key.
func (r *Registry) remove(st *state) bool {
	r.mu.Lock()
	current, ok := r.sessions[st.key]
	removed := ok && current == st
	if removed {
		delete(r.sessions, st.key)
	}
	r.mu.Unlock()
	if removed {
		r.gaugeSessions()
	}
	return removed
}

func (r *Registry) lockKey(key Key) func() {
	r.mu.Lock()
	kl, ok := r.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		r.keyLocks[key] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		r.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(r.keyLocks, key)
		}
		r.mu.Unlock()
	}
}

// teardown closes the inbox and the engine stream. Close may block for as
// long as the engine likes; awaitStop bounds how long anyone waits for it.
func (r *Registry) teardown(st *state) {
	st.inbox.Close()
	<-st.opened
	if st.stream == nil {
		return
	}
	if err := st.stream.Close(); err != nil {
		slog.Warn("failed to close transcription stream", "error", err, "session_key", st.key.String(), "session_id", st.id)
	}
}

func (r *Registry) gaugeSessions() {
	if r.metrics == nil {
		return
	}
	r.mu.Lock()
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SessionsActive.Set(float64(n))
}

func (r *Registry) recordStart(kind transcriber.Kind, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordStart(string(kind), outcome)
	}
}

func (r *Registry) recordChunkDropped(reason string) {
	if r.metrics != nil {
		r.metrics.RecordChunkDropped(reason)
	}
}

func (r *Registry) recordProviderError(kind transcriber.Kind, code transcriber.Code) {
	if r.metrics != nil {
		r.metrics.RecordProviderError(string(kind), string(code))
	}
}
