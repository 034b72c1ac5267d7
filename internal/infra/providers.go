package infra

import (
	"net/http"

	"sorajobs/internal/providers"
	"sorajobs/internal/providers/fal"
	"sorajobs/internal/providers/wavespeed"
)

// BuildProviders constructs the adapter registry from configuration. A
// provider without credentials is simply left out of the registry; submitting
// to it then fails validation instead of failing at the provider.
func BuildProviders(cfg *Config, logger Logger) (providers.Registry, error) {
	registry := providers.Registry{}
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	if cfg.FalAPIKey != "" {
		client, err := fal.NewClient(fal.Options{
			APIKey:     cfg.FalAPIKey,
			BaseURL:    cfg.FalBaseURL,
			Model:      cfg.FalModel,
			HTTPClient: httpClient,
			Logger:     &logger,
		})
		if err != nil {
			return nil, err
		}
		registry[client.Name()] = client
	}

	if cfg.WaveSpeedAPIKey != "" {
		client, err := wavespeed.NewClient(wavespeed.Options{
			APIKey:     cfg.WaveSpeedAPIKey,
			BaseURL:    cfg.WaveSpeedBaseURL,
			Model:      cfg.WaveSpeedModel,
			HTTPClient: httpClient,
			Logger:     &logger,
		})
		if err != nil {
			return nil, err
		}
		registry[client.Name()] = client
	}

	if len(registry) == 0 {
		logger.Warn().Msg("no generation providers configured")
	}
	return registry, nil
}
