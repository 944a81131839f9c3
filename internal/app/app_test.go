package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wina-futureobjects/track-futura/internal/config"
)

func TestBuildWithMemoryBackends(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8080, TimeoutSeconds: 60},
		BrightData: config.BrightDataConfig{
			BaseURL:    "https://api.brightdata.com",
			APIKey:     "test-key",
			DatasetIDs: map[string]string{"instagram": "gd_instagram"},
		},
		Apify: config.ApifyConfig{
			BaseURL:  "https://api.apify.com",
			Token:    "test-token",
			ActorIDs: map[string]string{"tiktok": "clockworks~tiktok-scraper"},
		},
		Sweeper: config.SweeperConfig{
			IntervalSeconds:  60,
			StalenessSeconds: 300,
			MaxPollAttempts:  10,
		},
	}
	require.NoError(t, cfg.Validate())

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, a.apiServer)
	require.NotNil(t, a.sweep)
	require.Nil(t, a.pgPool)
	require.NoError(t, a.Close())
}
