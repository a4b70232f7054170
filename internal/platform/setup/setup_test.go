package setup

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fanout-publisher/internal/config"
	"github.com/cuongbtq/fanout-publisher/internal/credential"
	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func allPlatforms() *config.PlatformsConfig {
	return &config.PlatformsConfig{
		YouTube: config.YouTubeConfig{Enabled: true, ClientID: "id", ClientSecret: "secret", RefreshToken: "yt-refresh"},
		VK:      config.VKConfig{Enabled: true, AccessToken: "vk-token", GroupID: 1},
		TikTok: config.TikTokConfig{
			Enabled:      true,
			ClientKey:    "key",
			ClientSecret: "secret",
			AccessToken:  "tt-access",
			RefreshToken: "tt-refresh",
			Account:      "tiktok:main",
		},
	}
}

func TestRegistry_EnabledPlatforms(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.PlatformsConfig)
		want   []domain.Platform
	}{
		{
			name: "all",
			want: []domain.Platform{domain.PlatformTikTok, domain.PlatformVK, domain.PlatformYouTube},
		},
		{
			name:   "youtube only",
			mutate: func(c *config.PlatformsConfig) { c.VK.Enabled = false; c.TikTok.Enabled = false },
			want:   []domain.Platform{domain.PlatformYouTube},
		},
		{
			name: "none",
			mutate: func(c *config.PlatformsConfig) {
				c.YouTube.Enabled = false
				c.VK.Enabled = false
				c.TikTok.Enabled = false
			},
			want: []domain.Platform{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := allPlatforms()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			registry, err := Registry(t.Context(), cfg, credential.NewMemoryStore(nil), nil, testLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, registry.Platforms())
		})
	}
}

func TestRegistry_SeedsTikTokCredential(t *testing.T) {
	store := credential.NewMemoryStore(nil)

	_, err := Registry(t.Context(), allPlatforms(), store, nil, testLogger())
	require.NoError(t, err)

	cred, err := store.Load(t.Context(), "tiktok:main")
	require.NoError(t, err)
	assert.Equal(t, "tt-access", cred.AccessToken)
	assert.Equal(t, "tt-refresh", cred.RefreshToken)
}

func TestRegistry_KeepsRotatedCredential(t *testing.T) {
	store := credential.NewMemoryStore(map[string]credential.Credential{
		"tiktok:main": {AccessToken: "rotated", RefreshToken: "rotated-refresh"},
	})

	_, err := Registry(t.Context(), allPlatforms(), store, nil, testLogger())
	require.NoError(t, err)

	cred, err := store.Load(t.Context(), "tiktok:main")
	require.NoError(t, err)
	assert.Equal(t, "rotated", cred.AccessToken)
}

func TestRegistry_TikTokNeedsStore(t *testing.T) {
	_, err := Registry(t.Context(), allPlatforms(), nil, nil, testLogger())
	assert.Error(t, err)
}
