package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/fanout-publisher/internal/credential"
	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

type credentialRow struct {
	Account      string    `db:"account"`
	Platform     string    `db:"platform"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// CredentialStore implements credential.Store on platform_credentials
type CredentialStore struct {
	db       *sqlx.DB
	platform domain.Platform
	logger   *slog.Logger
}

// NewCredentialStore creates a store for one platform's accounts
func NewCredentialStore(db *sqlx.DB, p domain.Platform, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		db:       db,
		platform: p,
		logger:   logger,
	}
}

// Load implements credential.Store
func (s *CredentialStore) Load(ctx context.Context, account string) (*credential.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, `
		SELECT account, platform, access_token, refresh_token, updated_at
		FROM platform_credentials
		WHERE account = $1
	`, account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	return &credential.Credential{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// Save implements credential.Store
func (s *CredentialStore) Save(ctx context.Context, account string, cred credential.Credential) error {
	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_credentials (account, platform, access_token, refresh_token, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    updated_at = EXCLUDED.updated_at
	`, account, s.platform, cred.AccessToken, cred.RefreshToken, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	s.logger.Info("Credential saved",
		slog.String("account", account),
		slog.String("platform", string(s.platform)),
	)
	return nil
}

// Seed stores cred only when the account has no row yet. It reports whether a row was written.
func (s *CredentialStore) Seed(ctx context.Context, account string, cred credential.Credential) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_credentials (account, platform, access_token, refresh_token, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account) DO NOTHING
	`, account, s.platform, cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return false, fmt.Errorf("failed to seed credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Info("Credential seeded from configuration", slog.String("account", account))
	}
	return rowsAffected > 0, nil
}
