//go:build vosk

package transcriber

import (
	"fmt"
	"path/filepath"

	vosk "github.com/alphacep/vosk-api/go"
)

func init() {
	vosk.SetLogLevel(-1)
}

// LoadVoskModel loads a Vosk model directory.
func LoadVoskModel(path string) (Model, error) {
	model, err := vosk.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %q: %w", path, err)
	}
	return &voskModel{model: model, info: "vosk/" + filepath.Base(path)}, nil
}

type voskModel struct {
	model *vosk.VoskModel
	info  string
}

func (m *voskModel) NewRecognizer(sampleRateHz float64) (Recognizer, error) {
	rec, err := vosk.NewRecognizer(m.model, sampleRateHz)
	if err != nil {
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	rec.SetWords(1)
	return &voskRecognizer{rec: rec}, nil
}

func (m *voskModel) Info() string { return m.info }

func (m *voskModel) Free() { m.model.Free() }

type voskRecognizer struct {
	rec *vosk.VoskRecognizer
}

func (r *voskRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	switch n := r.rec.AcceptWaveform(pcm); {
	case n < 0:
		return false, fmt.Errorf("vosk rejected %d bytes of audio", len(pcm))
	default:
		return n > 0, nil
	}
}

func (r *voskRecognizer) Result() string        { return r.rec.Result() }
func (r *voskRecognizer) PartialResult() string { return r.rec.PartialResult() }
func (r *voskRecognizer) FinalResult() string   { return r.rec.FinalResult() }
func (r *voskRecognizer) Free()                 { r.rec.Free() }
