package transcriber

import (
	"fmt"
	"log/slog"
	"sync"
)

// Model is a loaded, read-only acoustic model shared by every session that
// uses the same path.
type Model interface {
	NewRecognizer(sampleRateHz float64) (Recognizer, error)
	Info() string
	Free()
}

// Recognizer decodes one session's audio. It is owned by a single worker
// goroutine and is not safe for concurrent use.
type Recognizer interface {
	// AcceptWaveform reports whether an utterance boundary was reached.
	AcceptWaveform(pcm []byte) (bool, error)
	Result() string
	PartialResult() string
	FinalResult() string
	Free()
}

type ModelLoader func(path string) (Model, error)

type modelEntry struct {
	model Model
	refs  int
}

// ModelRegistry loads each model path at most once per process and
// reference-counts its users.
type ModelRegistry struct {
	load ModelLoader

	mu      sync.Mutex
	models  map[string]*modelEntry
	closing bool
}

func NewModelRegistry(load ModelLoader) *ModelRegistry {
	return &ModelRegistry{
		load:   load,
		models: make(map[string]*modelEntry),
	}
}

func (r *ModelRegistry) Acquire(path string) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil, fmt.Errorf("model registry is closed")
	}
	if entry, ok := r.models[path]; ok {
		entry.refs++
		return entry.model, nil
	}
	slog.Info("loading offline speech model", "model_path", path)
	model, err := r.load(path)
	if err != nil {
		return nil, err
	}
	r.models[path] = &modelEntry{model: model, refs: 1}
	slog.Info("offline speech model loaded", "model_path", path, "model_info", model.Info())
	return model, nil
}

func (r *ModelRegistry) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.models[path]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 && r.closing {
		entry.model.Free()
		delete(r.models, path)
	}
}

// Refs reports the number of live users of path.
func (r *ModelRegistry) Refs(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.models[path]; ok {
		return entry.refs
	}
	return 0
}

// Close frees idle models now and the rest as their last user releases them.
func (r *ModelRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closing = true
	for path, entry := range r.models {
		if entry.refs > 0 {
			continue
		}
		entry.model.Free()
		delete(r.models, path)
	}
}
