//go:build !vosk

package transcriber

import (
	"log/slog"

	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
)

// LoadVoskModel reports the offline engine as unavailable in builds without
// the vosk tag.
func LoadVoskModel(path string) (Model, error) {
	slog.Warn("offline recognizer is not compiled in; rebuild with -tags vosk", "model_path", path)
	return nil, transcriber.ErrProviderUnavailable
}
