package transcriber

import (
	"fmt"

	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*ModelRegistry, error) {
		return NewModelRegistry(LoadVoskModel), nil
	})
	do.Provide(injector, func(i do.Injector) (*transcriber.ProviderSet, error) {
		c := do.MustInvoke[*config.Config](i)
		fallback, err := transcriber.ParseKind(c.DefaultProvider)
		if err != nil {
			return nil, fmt.Errorf("invalid default provider: %w", err)
		}
		var providers []transcriber.Provider
		if c.OfflineEnabled {
			providers = append(providers, NewOfflineProvider(do.MustInvoke[*ModelRegistry](i), c.OfflineModelPath))
		}
		if c.CloudEnabled {
			providers = append(providers, NewCloudSpeechProvider(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
			}))
		}
		return transcriber.NewProviderSet(fallback, providers...), nil
	})
}
