package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	speechAPIEndpointPort = 443
	audioChannelCount     = 1
	defaultSampleRateHz   = 16000
	cloudResultBuffer     = 64
	cloudDrainWindow      = 750 * time.Millisecond
	cloudStatusWait       = 2 * time.Second
	maskedText            = "***"
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

// speechClient is the subset of the Speech v2 client used per session.
type speechClient interface {
	streamingRecognize(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)
	getPhraseSet(ctx context.Context, name string) (*speechpb.PhraseSet, error)
	getCustomClass(ctx context.Context, name string) (*speechpb.CustomClass, error)
	close() error
}

type gcpSpeechClient struct {
	client *speech.Client
}

func (c *gcpSpeechClient) streamingRecognize(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
	return c.client.StreamingRecognize(ctx)
}

func (c *gcpSpeechClient) getPhraseSet(ctx context.Context, name string) (*speechpb.PhraseSet, error) {
	return c.client.GetPhraseSet(ctx, &speechpb.GetPhraseSetRequest{Name: name})
}

func (c *gcpSpeechClient) getCustomClass(ctx context.Context, name string) (*speechpb.CustomClass, error) {
	return c.client.GetCustomClass(ctx, &speechpb.GetCustomClassRequest{Name: name})
}

func (c *gcpSpeechClient) close() error {
	return c.client.Close()
}

type CloudSpeechProvider struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string
	drainWindow     time.Duration
	newClient       func(ctx context.Context) (speechClient, error)
}

func NewCloudSpeechProvider(cfg CloudSpeechConfig) *CloudSpeechProvider {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	p := &CloudSpeechProvider{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
		drainWindow:     cloudDrainWindow,
	}
	p.newClient = p.dial
	return p
}

func (p *CloudSpeechProvider) Kind() transcriber.Kind {
	return transcriber.KindCloud
}

func (p *CloudSpeechProvider) dial(ctx context.Context) (speechClient, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(p.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, transcriber.Wrap(transcriber.CodeInvalidCredentials, "detect credentials", err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if p.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", p.location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &gcpSpeechClient{client: client}, nil
}

func (p *CloudSpeechProvider) resourceName(kind, name string) string {
	return fmt.Sprintf("projects/%s/locations/%s/%s/%s", p.projectID, p.location, kind, name)
}

// OpenStream verifies every requested provider resource before opening the
// billed audio stream.
func (p *CloudSpeechProvider) OpenStream(ctx context.Context, sessionID string, cfg transcriber.ProviderConfig) (transcriber.Stream, error) {
	if p.projectID == "" || p.credentialsJSON == "" {
		return nil, transcriber.ErrProviderUnavailable
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = defaultSampleRateHz
	}
	slog.Info("starting cloud speech streaming", "session_id", sessionID, "location", p.location, "language", cfg.Language, "model", p.model)

	client, err := p.newClient(ctx)
	if err != nil {
		return nil, classify(err, "create speech client", transcriber.CodeProviderInitFailed)
	}

	phraseSet, filter, err := p.negotiate(ctx, client, cfg)
	if err != nil {
		_ = client.close()
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &cloudStream{
		sessionID:   sessionID,
		client:      client,
		configReq:   p.configRequest(cfg, phraseSet),
		mask:        newMasker(filter),
		modelInfo:   fmt.Sprintf("google-cloud-speech/%s@%s", p.model, p.location),
		drainWindow: p.drainWindow,
		ctx:         streamCtx,
		cancel:      cancel,
		results:     make(chan transcriber.Event, cloudResultBuffer),
	}
	stream, err := s.openLocked()
	if err != nil {
		cancel()
		_ = client.close()
		return nil, classify(err, "open streaming recognize", transcriber.CodeProviderInitFailed)
	}
	s.current = stream
	slog.Info("cloud speech stream initialized", "session_id", sessionID)
	return s, nil
}

func (p *CloudSpeechProvider) negotiate(ctx context.Context, client speechClient, cfg transcriber.ProviderConfig) (*speechpb.PhraseSet, *speechpb.CustomClass, error) {
	var (
		missing   []string
		phraseSet *speechpb.PhraseSet
		filter    *speechpb.CustomClass
	)
	if name := strings.TrimSpace(cfg.VocabularyName); name != "" {
		ps, err := client.getPhraseSet(ctx, p.resourceName("phraseSets", name))
		switch {
		case status.Code(err) == codes.NotFound:
			missing = append(missing, "vocabulary:"+name)
		case err != nil:
			return nil, nil, classify(err, "look up vocabulary", transcriber.CodeProviderInitFailed)
		default:
			phraseSet = ps
		}
	}
	if name := strings.TrimSpace(cfg.VocabularyFilterName); name != "" {
		cc, err := client.getCustomClass(ctx, p.resourceName("customClasses", name))
		switch {
		case status.Code(err) == codes.NotFound:
			missing = append(missing, "vocabularyFilter:"+name)
		case err != nil:
			return nil, nil, classify(err, "look up vocabulary filter", transcriber.CodeProviderInitFailed)
		default:
			filter = cc
		}
	}
	if len(missing) > 0 {
		return nil, nil, transcriber.CapabilityMissing(missing)
	}
	return phraseSet, filter, nil
}

func (p *CloudSpeechProvider) configRequest(cfg transcriber.ProviderConfig, phraseSet *speechpb.PhraseSet) *speechpb.StreamingRecognizeRequest {
	recognition := &speechpb.RecognitionConfig{
		Model:         p.model,
		LanguageCodes: []string{cfg.Language},
		DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(cfg.SampleRateHz),
				AudioChannelCount: audioChannelCount,
			},
		},
		Features: &speechpb.RecognitionFeatures{
			EnableWordTimeOffsets: true,
			EnableWordConfidence:  true,
		},
	}
	if phraseSet != nil {
		recognition.Adaptation = &speechpb.SpeechAdaptation{
			PhraseSets: []*speechpb.SpeechAdaptation_AdaptationPhraseSet{{
				Value: &speechpb.SpeechAdaptation_AdaptationPhraseSet_PhraseSet{PhraseSet: phraseSet.GetName()},
			}},
		}
	}
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", p.projectID, p.location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:            recognition,
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}
}

type cloudStream struct {
	sessionID   string
	client      speechClient
	configReq   *speechpb.StreamingRecognizeRequest
	mask        *masker
	modelInfo   string
	drainWindow time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	current *recognizeLeg
	readers sync.WaitGroup

	pendingMu sync.Mutex
	pending   string

	errMu sync.Mutex
	err   error

	results    chan transcriber.Event
	finishOnce sync.Once
}

// recognizeLeg is one underlying recognize stream. A session spans several
// legs when the server rotates it at its duration limit.
type recognizeLeg struct {
	stream speechpb.Speech_StreamingRecognizeClient
	done   chan struct{}
	// err is what ended the reader; read it only after done is closed.
	err error
}

// outcome returns the error that ended the leg's reader, waiting up to wait.
// Send reports only io.EOF once the server has ended the stream.
func (l *recognizeLeg) outcome(wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-l.done:
		if l.err != nil {
			return l.err
		}
	case <-timer.C:
	}
	return io.EOF
}

// openLocked starts a new underlying stream and its reader. Callers hold mu
// or have exclusive access.
func (s *cloudStream) openLocked() (*recognizeLeg, error) {
	stream, err := s.client.streamingRecognize(s.ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(s.configReq); err != nil {
		_ = stream.CloseSend()
		return nil, err
	}
	leg := &recognizeLeg{stream: stream, done: make(chan struct{})}
	s.readers.Add(1)
	go s.receive(leg)
	return leg, nil
}

func (s *cloudStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transcriber.ErrStreamNotOpen
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: pcm,
		},
	}
	if err := s.current.stream.Send(req); err != nil {
		if errors.Is(err, io.EOF) {
			err = s.current.outcome(cloudStatusWait)
		}
		if !isReconnectableStreamError(err) {
			return classify(err, "send audio", transcriber.CodeProviderError)
		}
		slog.Warn("cloud speech stream hit its duration limit; reconnecting", "error", err, "session_id", s.sessionID)
		_ = s.current.stream.CloseSend()
		next, err := s.openLocked()
		if err != nil {
			return classify(err, "reconnect stream", transcriber.CodeProviderError)
		}
		s.current = next
		slog.Info("cloud speech stream reconnected", "session_id", s.sessionID)
		if err := s.current.stream.Send(req); err != nil {
			return classify(err, "send audio", transcriber.CodeProviderError)
		}
	}
	return nil
}

func (s *cloudStream) Results() <-chan transcriber.Event {
	return s.results
}

func (s *cloudStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *cloudStream) ModelInfo() string {
	return s.modelInfo
}

// Close half-closes the stream, lets trailing finals arrive for a short
// window, then flushes any pending partial as a final.
func (s *cloudStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.current.stream
	s.mu.Unlock()

	if err := stream.CloseSend(); err != nil {
		slog.Warn("failed to half-close cloud speech stream", "error", err, "session_id", s.sessionID)
	}
	drained := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(drained)
	}()
	timer := time.NewTimer(s.drainWindow)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		slog.Debug("cloud speech drain window elapsed", "session_id", s.sessionID)
	}
	s.finish(nil, true)
	return nil
}

func (s *cloudStream) finish(err error, flush bool) {
	s.finishOnce.Do(func() {
		if err != nil {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
		s.cancel()
		s.readers.Wait()
		if flush {
			s.pendingMu.Lock()
			pending := s.pending
			s.pending = ""
			s.pendingMu.Unlock()
			if pending != "" {
				s.results <- transcriber.Final(pending)
			}
		}
		close(s.results)
		if cerr := s.client.close(); cerr != nil {
			slog.Warn("failed to close speech client", "error", cerr, "session_id", s.sessionID)
		}
	})
}

func (s *cloudStream) fault(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	terr := classify(err, "streaming recognize", transcriber.CodeProviderError)
	slog.Error("cloud speech stream failed", "error", err, "code", string(terr.Code), "session_id", s.sessionID)
	go s.finish(terr, false)
}

func (s *cloudStream) receive(leg *recognizeLeg) {
	defer s.readers.Done()
	err := s.readLoop(leg.stream)
	leg.err = err
	close(leg.done)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		slog.Debug("cloud speech receive loop finished", "session_id", s.sessionID)
	case s.ctx.Err() != nil || status.Code(err) == codes.Canceled:
		slog.Debug("cloud speech receive loop canceled", "session_id", s.sessionID)
	case isReconnectableStreamError(err):
		slog.Warn("cloud speech receive loop ended with reconnectable abort", "error", err, "session_id", s.sessionID)
	default:
		s.fault(err)
	}
}

// readLoop forwards results until Recv fails. It returns nil when the
// session context ends first.
func (s *cloudStream) readLoop(stream speechpb.Speech_StreamingRecognizeClient) error {
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		for _, result := range resp.GetResults() {
			ev, ok := s.translate(result)
			if !ok {
				continue
			}
			s.pendingMu.Lock()
			if ev.Kind == transcriber.EventFinal {
				s.pending = ""
			} else {
				s.pending = ev.Text
			}
			s.pendingMu.Unlock()
			select {
			case s.results <- ev:
			case <-s.ctx.Done():
				return nil
			}
		}
	}
}

func (s *cloudStream) translate(result *speechpb.StreamingRecognitionResult) (transcriber.Event, bool) {
	alternatives := result.GetAlternatives()
	if len(alternatives) == 0 {
		return transcriber.Event{}, false
	}
	best := alternatives[0]
	text := strings.TrimSpace(s.mask.apply(best.GetTranscript()))
	if text == "" {
		return transcriber.Event{}, false
	}

	words := make([]transcriber.Word, 0, len(best.GetWords()))
	for _, w := range best.GetWords() {
		words = append(words, transcriber.Word{
			Text:       s.mask.apply(w.GetWord()),
			StartTime:  offset(w.GetStartOffset()),
			EndTime:    offset(w.GetEndOffset()),
			Confidence: float64(w.GetConfidence()),
		})
	}

	if !result.GetIsFinal() {
		ev := transcriber.Partial(text)
		if len(words) > 0 {
			start := words[0].StartTime
			ev.StartTime = &start
		}
		return ev, true
	}
	ev := transcriber.Final(text)
	ev.Words = words
	if len(words) > 0 {
		start := words[0].StartTime
		ev.StartTime = &start
	}
	if end := result.GetResultEndOffset(); end != nil {
		d := offset(end)
		ev.EndTime = &d
	} else if len(words) > 0 {
		d := words[len(words)-1].EndTime
		ev.EndTime = &d
	}
	return ev, true
}

func offset(d *durationpb.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.AsDuration()
}

// masker replaces vocabulary filter items with maskedText, matching whole
// words case-insensitively.
type masker struct {
	pattern *regexp.Regexp
}

func newMasker(filter *speechpb.CustomClass) *masker {
	if filter == nil {
		return &masker{}
	}
	terms := make([]string, 0, len(filter.GetItems()))
	for _, item := range filter.GetItems() {
		if v := strings.TrimSpace(item.GetValue()); v != "" {
			terms = append(terms, regexp.QuoteMeta(v))
		}
	}
	if len(terms) == 0 {
		return &masker{}
	}
	return &masker{pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(terms, "|") + `)\b`)}
}

func (m *masker) apply(text string) string {
	if m == nil || m.pattern == nil {
		return text
	}
	return m.pattern.ReplaceAllString(text, maskedText)
}
