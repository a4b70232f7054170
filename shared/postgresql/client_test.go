package postgresql

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "plain",
			cfg:  Config{Host: "localhost", Port: 5432, User: "fanout", Password: "pw", Database: "fanout_db", SSLMode: "require"},
			want: "postgres://fanout:pw@localhost:5432/fanout_db?sslmode=require",
		},
		{
			name: "escaped password and default sslmode",
			cfg:  Config{Host: "db", Port: 5433, User: "u", Password: "p@ss/word", Database: "d"},
			want: "postgres://u:p%40ss%2Fword@db:5433/d?sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestClient_HealthCheck(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, client.HealthCheck(t.Context()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err := client.HealthCheck(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("read only"))
	assert.Error(t, client.HealthCheck(t.Context()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_RegisterMetrics(t *testing.T) {
	client, _ := newMockClient(t)
	reg := prometheus.NewRegistry()

	require.NoError(t, client.RegisterMetrics(reg, "fanout"))
	assert.Error(t, client.RegisterMetrics(reg, "fanout"))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
