// Package setup builds the adapter registry from configuration.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/fanout-publisher/internal/config"
	"github.com/cuongbtq/fanout-publisher/internal/credential"
	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
	"github.com/cuongbtq/fanout-publisher/internal/platform/tiktok"
	"github.com/cuongbtq/fanout-publisher/internal/platform/vk"
	"github.com/cuongbtq/fanout-publisher/internal/platform/youtube"
)

// CredentialStore persists rotated credentials and accepts a first-run seed
type CredentialStore interface {
	credential.Store
	Seed(ctx context.Context, account string, cred credential.Credential) (bool, error)
}

// Registry creates adapters for the enabled platforms. TikTok tokens from cfg
// are written to creds only when the account has no stored credential yet.
// A nil client keeps each adapter's default.
func Registry(ctx context.Context, cfg *config.PlatformsConfig, creds CredentialStore, client *http.Client, logger *slog.Logger) (*platform.Registry, error) {
	registry := platform.NewRegistry()

	if cfg.YouTube.Enabled {
		var opts []youtube.Option
		if client != nil {
			opts = append(opts, youtube.WithHTTPClient(client))
		}
		registry.Register(youtube.New(youtube.Config{
			ClientID:       cfg.YouTube.ClientID,
			ClientSecret:   cfg.YouTube.ClientSecret,
			RefreshToken:   cfg.YouTube.RefreshToken,
			TokenURL:       cfg.YouTube.TokenURL,
			UploadURL:      cfg.YouTube.UploadURL,
			APIURL:         cfg.YouTube.APIURL,
			DefaultPrivacy: cfg.YouTube.DefaultPrivacy,
			ChunkSize:      cfg.YouTube.ChunkSize,
			MaxRetries:     cfg.YouTube.MaxRetries,
		}, logger, opts...))
	}

	if cfg.VK.Enabled {
		var opts []vk.Option
		if client != nil {
			opts = append(opts, vk.WithHTTPClient(client))
		}
		registry.Register(vk.New(vk.Config{
			AccessToken:    cfg.VK.AccessToken,
			GroupID:        cfg.VK.GroupID,
			DefaultPrivacy: cfg.VK.DefaultPrivacy,
			AsClip:         cfg.VK.AsClip,
			Wallpost:       cfg.VK.Wallpost,
			APIURL:         cfg.VK.APIURL,
			APIVersion:     cfg.VK.APIVersion,
			RatePerSecond:  cfg.VK.RatePerSecond,
		}, logger, opts...))
	}

	if cfg.TikTok.Enabled {
		adapter, err := newTikTok(ctx, &cfg.TikTok, creds, client, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	logger.Info("Platform adapters configured", slog.Any("platforms", registry.Platforms()))
	return registry, nil
}

func newTikTok(ctx context.Context, cfg *config.TikTokConfig, creds CredentialStore, client *http.Client, logger *slog.Logger) (*tiktok.Adapter, error) {
	if creds == nil {
		return nil, fmt.Errorf("tiktok requires a credential store")
	}

	account := cfg.Account
	if account == "" {
		account = tiktok.DefaultAccount
	}

	if cfg.AccessToken != "" || cfg.RefreshToken != "" {
		if _, err := creds.Seed(ctx, account, credential.Credential{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
		}); err != nil {
			return nil, fmt.Errorf("failed to seed tiktok credential: %w", err)
		}
	}

	tcfg := tiktok.Config{
		ClientKey:      cfg.ClientKey,
		ClientSecret:   cfg.ClientSecret,
		APIURL:         cfg.APIURL,
		DefaultPrivacy: cfg.DefaultPrivacy,
		DisableDuet:    cfg.DisableDuet,
		DisableComment: cfg.DisableComment,
		DisableStitch:  cfg.DisableStitch,
	}

	refresher := tiktok.NewTokenExchanger(cfg.ClientKey, cfg.ClientSecret, tcfg.TokenURL(), client)
	session := credential.NewSession(string(domain.PlatformTikTok), account, creds, refresher, logger)
	if err := session.Reload(ctx); err != nil {
		logger.Warn("TikTok credential not loaded yet",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
	}

	var opts []tiktok.Option
	if client != nil {
		opts = append(opts, tiktok.WithHTTPClient(client))
	}
	return tiktok.New(tcfg, session, logger, opts...), nil
}
