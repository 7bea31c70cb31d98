package p123

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// writeEnvelope writes a 123pan style response envelope.
func writeEnvelope(t *testing.T, w http.ResponseWriter, status, code int, message string, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	})
	require.NoError(t, err)
}

// refreshingSource is a token source that hands out a new token on Refresh.
type refreshingSource struct {
	current   atomic.Pointer[string]
	refreshed atomic.Int32
	next      string
}

func newRefreshingSource(initial, next string) *refreshingSource {
	s := &refreshingSource{next: next}
	s.current.Store(&initial)
	return s
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: *s.current.Load()}, nil
}

func (s *refreshingSource) Refresh(_ context.Context, _ string) (string, error) {
	s.refreshed.Add(1)
	s.current.Store(&s.next)
	return s.next, nil
}

func TestSignIn(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      int
		message   string
		data      any
		wantToken string
		wantErr   error
	}{
		{
			name:      "success with code 200",
			status:    http.StatusOK,
			code:      200,
			message:   "success",
			data:      map[string]any{"token": "fresh"},
			wantToken: "fresh",
		},
		{
			name:      "success with code 0",
			status:    http.StatusOK,
			code:      0,
			message:   "ok",
			data:      map[string]any{"token": "fresh"},
			wantToken: "fresh",
		},
		{
			name:    "wrong password",
			status:  http.StatusOK,
			code:    5113,
			message: "wrong password",
			wantErr: ErrUnexpected,
		},
		{
			name:    "missing token",
			status:  http.StatusOK,
			code:    200,
			message: "success",
			data:    map[string]any{},
			wantErr: ErrUnexpected,
		},
		{
			name:    "server error",
			status:  http.StatusBadGateway,
			code:    0,
			message: "",
			wantErr: ErrServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/b/api/user/sign_in", r.URL.Path)

				var req signInRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "alice", req.Passport)
				assert.Equal(t, "secret", req.Password)
				assert.True(t, req.Remember)

				writeEnvelope(t, w, tt.status, tt.code, tt.message, tt.data)
			}))
			defer srv.Close()

			token, err := NewClient(srv.URL).SignIn(context.Background(), "alice", "secret")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestUserInfo(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "valid token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				writeEnvelope(t, w, http.StatusOK, 0, "ok", map[string]any{"UID": 42, "Nickname": "alice"})
			},
		},
		{
			name: "expired by status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, http.StatusUnauthorized, 401, "unauthorized", nil)
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "expired by envelope code",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, http.StatusOK, 401, "tokens number has exceeded the limit", nil)
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "expired by message",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, http.StatusOK, 2, "Token Is Expired", nil)
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "unrelated error code",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, http.StatusOK, 5000, "busy", nil)
			},
			wantErr: ErrUnexpected,
		},
		{
			name: "code 0 without ok message",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, http.StatusOK, 0, "maintenance", nil)
			},
			wantErr: ErrUnexpected,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "<html>oops</html>")
			},
			wantErr: ErrUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			info, err := NewClient(srv.URL).UserInfo(context.Background(), "tok")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				if !errors.Is(tt.wantErr, ErrTokenExpired) {
					assert.NotErrorIs(t, err, ErrTokenExpired)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(42), info.UID)
			assert.Equal(t, "alice", info.Nickname)
		})
	}
}

func TestUserInfo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewClient(srv.URL).UserInfo(context.Background(), "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestListFiles_Paginates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/file/list/new", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("parentFileId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("next") {
		case "0":
			writeEnvelope(t, w, http.StatusOK, 0, "ok", map[string]any{
				"Next":     "cursor-1",
				"InfoList": []map[string]any{{"FileId": 1, "FileName": "a.txt", "Type": 0, "Size": 3}},
			})
		case "cursor-1":
			writeEnvelope(t, w, http.StatusOK, 0, "ok", map[string]any{
				"Next":     "-1",
				"InfoList": []map[string]any{{"FileId": 2, "FileName": "dir", "Type": 1}},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("next"))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})))
	files, err := client.ListFiles(context.Background(), 7)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].FileName)
	assert.False(t, files[0].IsFolder())
	assert.Equal(t, "dir", files[1].FileName)
	assert.True(t, files[1].IsFolder())
	assert.Equal(t, int32(2), calls.Load())
}

func TestListFiles_StopsWhenCursorRepeats(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		writeEnvelope(t, w, http.StatusOK, 0, "ok", map[string]any{
			"Next":     "cursor-1",
			"InfoList": []map[string]any{{"FileId": n, "FileName": "f", "Type": 0}},
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(srv.URL, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})))
	files, err := client.ListFiles(ctx, RootFolderID)
	require.NoError(t, err)

	assert.Len(t, files, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListFiles_RefreshesExpiredTokenOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeEnvelope(t, w, http.StatusUnauthorized, 401, "token is expired", nil)
			return
		}
		writeEnvelope(t, w, http.StatusOK, 0, "ok", map[string]any{"Next": "-1", "InfoList": []any{}})
	}))
	defer srv.Close()

	source := newRefreshingSource("stale", "fresh")
	client := NewClient(srv.URL, WithTokenSource(source))

	_, err := client.ListFiles(context.Background(), RootFolderID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.refreshed.Load())
}

func TestListFiles_ExpiredWithoutRefresher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(t, w, http.StatusUnauthorized, 401, "token is expired", nil)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "stale"})))

	_, err := client.ListFiles(context.Background(), RootFolderID)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestListFiles_NoTokenSource(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0").ListFiles(context.Background(), RootFolderID)
	assert.Error(t, err)
}

func TestDownloadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/file/download_info", r.URL.Path)

		var req downloadInfoRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(9), req.FileID)
		assert.Equal(t, "etag-9", req.Etag)

		writeEnvelope(t, w, http.StatusOK, 0, "ok", map[string]any{"DownloadUrl": "https://cdn.example/9"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})))
	got, err := client.DownloadURL(context.Background(), File{FileID: 9, FileName: "n.bin", Etag: "etag-9"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/9", got)
}

func TestDownload(t *testing.T) {
	const content = "0123456789"

	tests := []struct {
		name         string
		honorRange   bool
		offset       int64
		wantContents string
	}{
		{name: "from start", honorRange: true, offset: 0, wantContents: content},
		{name: "range honored", honorRange: true, offset: 4, wantContents: "456789"},
		{name: "range ignored", honorRange: false, offset: 4, wantContents: "456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rng := r.Header.Get("Range")
				if tt.honorRange && rng != "" {
					start := strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-")
					assert.Equal(t, "4", start)
					w.WriteHeader(http.StatusPartialContent)
					_, _ = io.WriteString(w, content[4:])
					return
				}
				_, _ = io.WriteString(w, content)
			}))
			defer srv.Close()

			rc, err := NewClient(srv.URL).Download(context.Background(), srv.URL+"/blob", tt.offset)
			require.NoError(t, err)
			defer func() { _ = rc.Close() }()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantContents, string(got))
		})
	}
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewClient(srv.URL).Download(context.Background(), srv.URL+"/blob", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
