// Package credential keeps OAuth credentials that the platform APIs rotate.
//
// A Session holds one account's in-memory copy. Reload re-reads the persisted
// credential so a worker picks up tokens refreshed by another process. Refresh
// exchanges the refresh token and persists the new pair before it is used.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/metrics"
)

// ErrNoRefreshToken is returned by Refresh when the account has no refresh token
var ErrNoRefreshToken = errors.New("refresh token not configured")

// Credential is an access/refresh token pair
type Credential struct {
	AccessToken  string
	RefreshToken string
	UpdatedAt    time.Time
}

// Store persists credentials by account
type Store interface {
	Load(ctx context.Context, account string) (*Credential, error)
	Save(ctx context.Context, account string, cred Credential) error
}

// Refresher exchanges a refresh token for a new credential
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Credential, error)
}

// State of a Session
type State int

const (
	StateValid State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "REFRESHING"
	}
	return "VALID"
}

// Session is the process-local view of one account's credential
type Session struct {
	account   string
	platform  string
	store     Store
	refresher Refresher
	logger    *slog.Logger

	mu    sync.Mutex
	cred  Credential
	state State
}

// NewSession creates a session. The credential is empty until Reload is called.
func NewSession(platform, account string, store Store, refresher Refresher, logger *slog.Logger) *Session {
	return &Session{
		account:   account,
		platform:  platform,
		store:     store,
		refresher: refresher,
		logger:    logger,
	}
}

// Account returns the account key used with the store
func (s *Session) Account() string {
	return s.account
}

// Reload replaces the in-memory credential with the persisted one
func (s *Session) Reload(ctx context.Context) error {
	cred, err := s.store.Load(ctx, s.account)
	if err != nil {
		return fmt.Errorf("failed to load credential %s: %w", s.account, err)
	}

	s.mu.Lock()
	s.cred = *cred
	s.mu.Unlock()
	return nil
}

// AccessToken returns the current access token
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.AccessToken
}

// HasRefreshToken reports whether Refresh can be attempted
func (s *Session) HasRefreshToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.RefreshToken != ""
}

// Refresh exchanges the refresh token and persists the result.
// staleToken is the access token that was rejected; if another goroutine already
// replaced it, Refresh returns without a second exchange.
func (s *Session) Refresh(ctx context.Context, staleToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred.AccessToken != staleToken && s.cred.AccessToken != "" {
		s.logger.Debug("Credential already refreshed by another caller",
			slog.String("account", s.account),
		)
		return nil
	}

	if s.cred.RefreshToken == "" {
		s.logger.Warn("Refresh token not available, cannot refresh access token",
			slog.String("account", s.account),
		)
		return ErrNoRefreshToken
	}

	s.state = StateRefreshing
	defer func() { s.state = StateValid }()

	s.logger.Info("Refreshing access token", slog.String("account", s.account))

	next, err := s.refresher.Refresh(ctx, s.cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(s.platform, "failed").Inc()
		s.logger.Error("Failed to refresh access token",
			slog.String("account", s.account),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to refresh access token: %w", err)
	}
	if next.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues(s.platform, "failed").Inc()
		return errors.New("refresh response has no access token")
	}

	updated := Credential{
		AccessToken:  next.AccessToken,
		RefreshToken: next.RefreshToken,
		UpdatedAt:    time.Now().UTC(),
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = s.cred.RefreshToken
	}

	if err := s.store.Save(ctx, s.account, updated); err != nil {
		metrics.TokenRefreshes.WithLabelValues(s.platform, "failed").Inc()
		s.logger.Error("Failed to persist refreshed credential",
			slog.String("account", s.account),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	s.cred = updated
	metrics.TokenRefreshes.WithLabelValues(s.platform, "succeeded").Inc()

	s.logger.Info("Access token refreshed successfully",
		slog.String("account", s.account),
	)
	return nil
}
