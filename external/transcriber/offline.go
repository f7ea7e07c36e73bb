package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/mailbox"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
)

const (
	offlinePollInterval = 50 * time.Millisecond
	offlineJoinTimeout  = 250 * time.Millisecond
	offlineQueueSize    = 128
	offlineResultBuffer = 64
)

type OfflineProvider struct {
	models    *ModelRegistry
	modelPath string
	queueSize int
}

func NewOfflineProvider(models *ModelRegistry, modelPath string) *OfflineProvider {
	return &OfflineProvider{
		models:    models,
		modelPath: strings.TrimSpace(modelPath),
		queueSize: offlineQueueSize,
	}
}

func (p *OfflineProvider) Kind() transcriber.Kind {
	return transcriber.KindOffline
}

func (p *OfflineProvider) OpenStream(_ context.Context, sessionID string, cfg transcriber.ProviderConfig) (transcriber.Stream, error) {
	if p.modelPath == "" {
		return nil, transcriber.ErrProviderUnavailable
	}
	sampleRate := cfg.SampleRateHz
	if sampleRate <= 0 {
		sampleRate = defaultSampleRateHz
	}
	model, err := p.models.Acquire(p.modelPath)
	if err != nil {
		if errors.Is(err, transcriber.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, transcriber.Wrap(transcriber.CodeProviderInitFailed, "load offline model", err)
	}
	rec, err := model.NewRecognizer(float64(sampleRate))
	if err != nil {
		p.models.Release(p.modelPath)
		return nil, transcriber.Wrap(transcriber.CodeProviderInitFailed, "create recognizer", err)
	}

	s := &offlineStream{
		sessionID:  sessionID,
		rec:        rec,
		modelInfo:  model.Info(),
		release:    func() { p.models.Release(p.modelPath) },
		inbox:      mailbox.New[[]byte](p.queueSize),
		results:    make(chan transcriber.Event, offlineResultBuffer),
		workerDone: make(chan struct{}),
	}
	go s.run()
	slog.Info("offline recognizer started", "session_id", sessionID, "model_info", s.modelInfo, "sample_rate_hz", sampleRate)
	return s, nil
}

type offlineStream struct {
	sessionID string
	rec       Recognizer
	modelInfo string
	release   func()

	inbox   *mailbox.Mailbox[[]byte]
	results chan transcriber.Event

	stop       atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
	workerDone chan struct{}

	// worker goroutine only
	lastPartial string

	errMu sync.Mutex
	err   error
}

func (s *offlineStream) Write(pcm []byte) error {
	if s.closed.Load() {
		return transcriber.ErrStreamNotOpen
	}
	switch err := s.inbox.TrySend(pcm); {
	case errors.Is(err, mailbox.ErrClosed):
		return transcriber.ErrStreamNotOpen
	case err != nil:
		return fmt.Errorf("offline recognizer queue: %w", err)
	}
	return nil
}

func (s *offlineStream) Results() <-chan transcriber.Event {
	return s.results
}

func (s *offlineStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *offlineStream) ModelInfo() string {
	return s.modelInfo
}

// Close signals the worker and waits a bounded time for it. The worker emits
// the trailing final and closes Results on its own schedule.
func (s *offlineStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.inbox.Close()
		s.stop.Store(true)
	})
	timer := time.NewTimer(offlineJoinTimeout)
	defer timer.Stop()
	select {
	case <-s.workerDone:
	case <-timer.C:
		slog.Debug("offline recognizer worker still finishing", "session_id", s.sessionID)
	}
	return nil
}

func (s *offlineStream) run() {
	defer close(s.workerDone)
	defer s.release()
	defer s.rec.Free()

	poll := time.NewTimer(offlinePollInterval)
	defer poll.Stop()
	inbox := s.inbox.Receive()

loop:
	for {
		select {
		case chunk, ok := <-inbox:
			if !ok {
				break loop
			}
			if err := s.accept(chunk); err != nil {
				s.setErr(transcriber.Wrap(transcriber.CodeProviderError, "recognizer rejected audio", err))
				slog.Error("offline recognizer failed", "error", err, "session_id", s.sessionID)
				close(s.results)
				return
			}
		case <-poll.C:
			if s.stop.Load() && s.inbox.Len() == 0 {
				break loop
			}
			poll.Reset(offlinePollInterval)
		}
	}

	if text, words := parseVoskResult(s.rec.FinalResult()); text != "" {
		s.results <- finalEvent(text, words)
	}
	close(s.results)
}

func (s *offlineStream) accept(chunk []byte) error {
	boundary, err := s.rec.AcceptWaveform(chunk)
	if err != nil {
		return err
	}
	if boundary {
		s.lastPartial = ""
		if text, words := parseVoskResult(s.rec.Result()); text != "" {
			s.results <- finalEvent(text, words)
		}
		return nil
	}
	partial := parseVoskPartial(s.rec.PartialResult())
	if partial == "" || partial == s.lastPartial {
		return nil
	}
	s.lastPartial = partial
	s.results <- transcriber.Partial(partial)
	return nil
}

func (s *offlineStream) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

type voskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

type voskResult struct {
	Text    string     `json:"text"`
	Partial string     `json:"partial"`
	Result  []voskWord `json:"result"`
}

func parseVoskResult(raw string) (string, []transcriber.Word) {
	var r voskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		slog.Warn("failed to parse recognizer result", "error", err)
		return "", nil
	}
	words := make([]transcriber.Word, 0, len(r.Result))
	for _, w := range r.Result {
		words = append(words, transcriber.Word{
			Text:       w.Word,
			StartTime:  secondsToDuration(w.Start),
			EndTime:    secondsToDuration(w.End),
			Confidence: w.Conf,
		})
	}
	return strings.TrimSpace(r.Text), words
}

func parseVoskPartial(raw string) string {
	var r voskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ""
	}
	return strings.TrimSpace(r.Partial)
}

func finalEvent(text string, words []transcriber.Word) transcriber.Event {
	ev := transcriber.Final(text)
	if len(words) > 0 {
		ev.Words = words
		start := words[0].StartTime
		end := words[len(words)-1].EndTime
		ev.StartTime = &start
		ev.EndTime = &end
	}
	return ev
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
