// Package sources holds one extraction adapter per supported career site.
package sources

import (
	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// Config wires every source adapter.
type Config struct {
	Client adapter.Client
	// Headless renders JavaScript-only posting pages. Nil fetches them with
	// Client.Fetcher.
	Headless ingest.Fetcher
	// Endpoints overrides listing URLs by source.
	Endpoints map[ingest.Source]string
}

func (c Config) endpoint(source ingest.Source, fallback string) string {
	if v, ok := c.Endpoints[source]; ok && v != "" {
		return v
	}
	return fallback
}

// All builds the adapter for every supported source.
func All(cfg Config) []adapter.Adapter {
	client := cfg.Client.WithDefaults()
	return []adapter.Adapter{
		NewGoogle(client, cfg.endpoint(ingest.SourceGoogle, googleAPIURL)),
		NewAmazon(client, cfg.endpoint(ingest.SourceAmazon, amazonAPIURL)),
		NewAnthropic(client, cfg.endpoint(ingest.SourceAnthropic, anthropicAPIURL)),
		NewTikTok(client, cfg.Headless, cfg.endpoint(ingest.SourceTikTok, tiktokAPIURL)),
		NewRoblox(client, cfg.Headless, cfg.endpoint(ingest.SourceRoblox, robloxAPIURL)),
		NewNetflix(client, cfg.endpoint(ingest.SourceNetflix, netflixAPIURL)),
		NewOpenAI(client, cfg.endpoint(ingest.SourceOpenAI, openaiAPIURL)),
	}
}

// NewRegistry returns a registry holding every supported source.
func NewRegistry(cfg Config) *adapter.Registry {
	return adapter.NewRegistry(All(cfg)...)
}

func parseFailure(source ingest.Source, reason string) error {
	return &ingest.ParseError{Source: source, Reason: reason}
}
