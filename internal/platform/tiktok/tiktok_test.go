package tiktok

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fanout-publisher/internal/credential"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
)

const account = "tiktok:default"

type fakeTikTok struct {
	t *testing.T

	mu           sync.Mutex
	validToken   string
	refreshBody  string
	initBody     string
	statusBody   string
	initCalls    int
	refreshCalls int
	postInfo     postInfo
	sourceInfo   sourceInfo
	uploaded     []byte
	contentRange string
}

func (f *fakeTikTok) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v2/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshCalls++
		f.mu.Unlock()
		assert.Equal(f.t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(f.t, "ck", r.FormValue("client_key"))
		assert.Equal(f.t, "cs", r.FormValue("client_secret"))
		_, _ = w.Write([]byte(f.refreshBody))
	})

	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.initCalls++
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"access_token_invalid","message":"The access token is invalid or not found","log_id":"l1"}}`))
			return
		}
		if f.initBody != "" {
			_, _ = w.Write([]byte(f.initBody))
			return
		}

		assert.NoError(f.t, json.Unmarshal([]byte(r.FormValue("post_info")), &f.postInfo))
		assert.NoError(f.t, json.Unmarshal([]byte(r.FormValue("source_info")), &f.sourceInfo))
		_, _ = w.Write([]byte(`{"data":{"publish_id":"p_1","upload_url":"http://` + r.Host + `/upload"},"error":{"code":"ok","message":""}}`))
	})

	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, http.MethodPut, r.Method)
		assert.Equal(f.t, "video/mp4", r.Header.Get("Content-Type"))
		f.contentRange = r.Header.Get("Content-Range")
		f.uploaded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("/v2/post/publish/status/p_1/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer "+f.validToken, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(f.statusBody))
	})

	return mux
}

type countingStore struct {
	*credential.MemoryStore
	mu    sync.Mutex
	saves int
}

func (c *countingStore) Save(ctx context.Context, acc string, cred credential.Credential) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.MemoryStore.Save(ctx, acc, cred)
}

type harness struct {
	fake    *fakeTikTok
	store   *countingStore
	adapter *Adapter
}

func newHarness(t *testing.T, fake *fakeTikTok, seed *credential.Credential) *harness {
	t.Helper()
	fake.t = t
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	initial := map[string]credential.Credential{}
	if seed != nil {
		initial[account] = *seed
	}
	store := &countingStore{MemoryStore: credential.NewMemoryStore(initial)}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{ClientKey: "ck", ClientSecret: "cs", APIURL: srv.URL}
	exchanger := NewTokenExchanger(cfg.ClientKey, cfg.ClientSecret, cfg.TokenURL(), srv.Client())
	session := credential.NewSession("tiktok", account, store, exchanger, logger)

	return &harness{
		fake:    fake,
		store:   store,
		adapter: New(cfg, session, logger, WithHTTPClient(srv.Client())),
	}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v.mp4")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))
	return path
}

func TestPublish(t *testing.T) {
	h := newHarness(t, &fakeTikTok{validToken: "a1"}, &credential.Credential{AccessToken: "a1", RefreshToken: "r1"})

	res, err := h.adapter.Publish(context.Background(), platform.PublishRequest{
		VideoPath:   writeVideo(t),
		Title:       " Title ",
		Description: "Body",
	})
	require.NoError(t, err)

	assert.Equal(t, "p_1", res.PlatformJobID)
	assert.Equal(t, "https://www.tiktok.com/@me/video/p_1", res.PublicURL)
	assert.Equal(t, platform.StatusProcessing, res.Status)
	assert.True(t, res.Provisional)

	assert.Equal(t, "Title\n\nBody", h.fake.postInfo.Title)
	assert.Equal(t, "SELF_ONLY", h.fake.postInfo.PrivacyLevel)
	assert.Equal(t, sourceInfo{Source: "FILE_UPLOAD", VideoSize: 10, ChunkSize: 10, TotalChunkCount: 1}, h.fake.sourceInfo)
	assert.Equal(t, "bytes 0-9/10", h.fake.contentRange)
	assert.Equal(t, "0123456789", string(h.fake.uploaded))
	assert.Equal(t, 0, h.fake.refreshCalls)
	assert.Equal(t, 0, h.store.saves)
}

func TestPublish_Options(t *testing.T) {
	h := newHarness(t, &fakeTikTok{validToken: "a1"}, &credential.Credential{AccessToken: "a1"})
	yes := true

	_, err := h.adapter.Publish(context.Background(), platform.PublishRequest{
		VideoPath: writeVideo(t),
		Options: platform.Options{
			Privacy:        "PUBLIC_TO_EVERYONE",
			DisableDuet:    &yes,
			DisableComment: &yes,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Video", h.fake.postInfo.Title)
	assert.Equal(t, "PUBLIC_TO_EVERYONE", h.fake.postInfo.PrivacyLevel)
	assert.True(t, h.fake.postInfo.DisableDuet)
	assert.True(t, h.fake.postInfo.DisableComment)
	assert.False(t, h.fake.postInfo.DisableStitch)
}

func TestPublish_RefreshAndReplay(t *testing.T) {
	fake := &fakeTikTok{
		validToken:  "a2",
		refreshBody: `{"data":{"access_token":"a2","refresh_token":"r2","expires_in":86400}}`,
	}
	h := newHarness(t, fake, &credential.Credential{AccessToken: "a1", RefreshToken: "r1"})

	res, err := h.adapter.Publish(context.Background(), platform.PublishRequest{VideoPath: writeVideo(t), Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "p_1", res.PlatformJobID)

	assert.Equal(t, 1, fake.refreshCalls)
	assert.Equal(t, 2, fake.initCalls)
	assert.Equal(t, 1, h.store.saves)

	persisted, err := h.store.Load(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "a2", persisted.AccessToken)
	assert.Equal(t, "r2", persisted.RefreshToken)
}

func TestPublish_TokenErrors(t *testing.T) {
	tests := []struct {
		name         string
		seed         *credential.Credential
		refreshBody  string
		wantCode     string
		wantRefresh  int
		wantInit     int
		wantSaves    int
		wantAccessAt string
	}{
		{
			name:         "refresh rejected",
			seed:         &credential.Credential{AccessToken: "a1", RefreshToken: "r1"},
			refreshBody:  `{"error":"invalid_grant","error_description":"Refresh token is invalid"}`,
			wantCode:     "access_token_invalid",
			wantRefresh:  1,
			wantInit:     1,
			wantAccessAt: "a1",
		},
		{
			name:         "token still rejected after refresh",
			seed:         &credential.Credential{AccessToken: "a1", RefreshToken: "r1"},
			refreshBody:  `{"access_token":"a3","refresh_token":"r3"}`,
			wantCode:     "access_token_invalid",
			wantRefresh:  1,
			wantInit:     2,
			wantSaves:    1,
			wantAccessAt: "a3",
		},
		{
			name:         "no refresh token",
			seed:         &credential.Credential{AccessToken: "a1"},
			wantCode:     "access_token_invalid",
			wantInit:     1,
			wantAccessAt: "a1",
		},
		{
			name:     "no stored credential",
			wantInit: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTikTok{validToken: "a2", refreshBody: tt.refreshBody}
			h := newHarness(t, fake, tt.seed)

			res, err := h.adapter.Publish(context.Background(), platform.PublishRequest{VideoPath: writeVideo(t), Title: "t"})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, platform.KindAuth, platform.KindOf(err))
			assert.False(t, platform.IsRetryable(err))

			var perr *platform.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantCode, perr.Code)

			assert.Equal(t, tt.wantRefresh, fake.refreshCalls)
			assert.Equal(t, tt.wantInit, fake.initCalls)
			assert.Equal(t, tt.wantSaves, h.store.saves)

			if tt.wantAccessAt != "" {
				persisted, err := h.store.Load(context.Background(), account)
				require.NoError(t, err)
				assert.Equal(t, tt.wantAccessAt, persisted.AccessToken)
			}
		})
	}
}

func TestPublish_APIErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind platform.Kind
	}{
		{name: "rate limited", body: `{"error":{"code":"rate_limit_exceeded","message":"slow down"}}`, wantKind: platform.KindTransient},
		{name: "spam risk", body: `{"error":{"code":"spam_risk_too_many_posts","message":"daily cap"}}`, wantKind: platform.KindPlatform},
		{name: "missing upload url", body: `{"data":{"publish_id":"p_1"},"error":{"code":"ok"}}`, wantKind: platform.KindPlatform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTikTok{validToken: "a1", initBody: tt.body}
			h := newHarness(t, fake, &credential.Credential{AccessToken: "a1", RefreshToken: "r1"})

			_, err := h.adapter.Publish(context.Background(), platform.PublishRequest{VideoPath: writeVideo(t), Title: "t"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, platform.KindOf(err))
			assert.Equal(t, 0, fake.refreshCalls)
		})
	}
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantState string
	}{
		{name: "complete", body: `{"data":{"status":"PUBLISH_COMPLETE","publicaly_available_post_id":["7300"]},"error":{"code":"ok"}}`, wantState: "ready"},
		{name: "processing", body: `{"data":{"status":"PROCESSING_UPLOAD"},"error":{"code":"ok"}}`, wantState: "processing"},
		{name: "failed", body: `{"data":{"status":"FAILED","fail_reason":"file_format_check_failed"},"error":{"code":"ok"}}`, wantState: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTikTok{validToken: "a1", statusBody: tt.body}
			h := newHarness(t, fake, &credential.Credential{AccessToken: "a1"})

			st, err := h.adapter.GetStatus(context.Background(), "p_1")
			require.NoError(t, err)
			assert.Equal(t, "p_1", st.PlatformJobID)
			assert.Equal(t, tt.wantState, st.State)
		})
	}
}

func TestCaption(t *testing.T) {
	tests := []struct {
		name        string
		title, desc string
		want        string
	}{
		{name: "title only", title: "Hello", want: "Hello"},
		{name: "description only", desc: " text ", want: "text"},
		{name: "both", title: "Hello", desc: "World", want: "Hello\n\nWorld"},
		{name: "empty", title: "  ", want: "Video"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Caption(tt.title, tt.desc))
		})
	}

	long := Caption(strings.Repeat("x", 3000), "")
	assert.Equal(t, 2200, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestIsTokenError(t *testing.T) {
	for _, code := range []string{"access_token_invalid", "access_token_expired", "invalid_token", "token_expired", "unauthorized", "scope_token_mismatch"} {
		assert.True(t, isTokenError(code), code)
	}
	for _, code := range []string{"", "rate_limit_exceeded", "spam_risk_too_many_posts"} {
		assert.False(t, isTokenError(code), code)
	}
}

func TestIsOKCode(t *testing.T) {
	for _, code := range []string{"ok", "OK", "success", "0", "200", ""} {
		assert.True(t, isOKCode(code), code)
	}
	assert.False(t, isOKCode("access_token_invalid"))
}

func TestTokenExchanger(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		wantAccess  string
		wantRefresh string
	}{
		{name: "nested data", status: 200, body: `{"data":{"access_token":"a","refresh_token":"r"}}`, wantAccess: "a", wantRefresh: "r"},
		{name: "top level", status: 200, body: `{"access_token":"a","refresh_token":"r","expires_in":86400}`, wantAccess: "a", wantRefresh: "r"},
		{name: "no new refresh token", status: 200, body: `{"access_token":"a"}`, wantAccess: "a"},
		{name: "error string", status: 200, body: `{"error":"invalid_grant","error_description":"expired"}`, wantErr: true},
		{name: "error object", status: 400, body: `{"error":{"code":"invalid_client","message":"bad key"}}`, wantErr: true},
		{name: "no access token", status: 200, body: `{"data":{}}`, wantErr: true},
		{name: "server error", status: 502, body: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "old", r.FormValue("refresh_token"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ex := NewTokenExchanger("ck", "cs", srv.URL, srv.Client())
			cred, err := ex.Refresh(context.Background(), "old")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccess, cred.AccessToken)
			assert.Equal(t, tt.wantRefresh, cred.RefreshToken)
		})
	}
}
