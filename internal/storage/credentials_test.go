package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fanout-publisher/internal/credential"
	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

func newMockCredentialStore(t *testing.T) (*CredentialStore, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	return NewCredentialStore(db, domain.PlatformTikTok, testLogger()), mock
}

func TestCredentialStore_Load(t *testing.T) {
	store, mock := newMockCredentialStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM platform_credentials`).
		WithArgs("tiktok:default").
		WillReturnRows(sqlmock.NewRows([]string{"account", "platform", "access_token", "refresh_token", "updated_at"}).
			AddRow("tiktok:default", "tiktok", "a1", "r1", now))

	cred, err := store.Load(context.Background(), "tiktok:default")
	require.NoError(t, err)
	assert.Equal(t, "a1", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken)
	assert.Equal(t, now, cred.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStore_LoadMissing(t *testing.T) {
	store, mock := newMockCredentialStore(t)

	mock.ExpectQuery(`FROM platform_credentials`).
		WillReturnRows(sqlmock.NewRows([]string{"account", "platform", "access_token", "refresh_token", "updated_at"}))

	_, err := store.Load(context.Background(), "tiktok:default")
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestCredentialStore_Save(t *testing.T) {
	store, mock := newMockCredentialStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`ON CONFLICT \(account\) DO UPDATE`).
		WithArgs("tiktok:default", domain.PlatformTikTok, "a2", "r2", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), "tiktok:default", credential.Credential{AccessToken: "a2", RefreshToken: "r2", UpdatedAt: now})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStore_Seed(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "inserted", affected: 1, want: true},
		{name: "already present", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockCredentialStore(t)

			mock.ExpectExec(`ON CONFLICT \(account\) DO NOTHING`).
				WithArgs("tiktok:default", domain.PlatformTikTok, "a1", "r1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			seeded, err := store.Seed(context.Background(), "tiktok:default", credential.Credential{AccessToken: "a1", RefreshToken: "r1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, seeded)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
