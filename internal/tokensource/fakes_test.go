package tokensource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/florianilch/p123dav/internal/p123"
	"github.com/florianilch/p123dav/internal/tokenstore"
)

var errNetwork = errors.New("connection reset by peer")

// fakeStore is an in-memory TokenStore that records the operations applied to it.
type fakeStore struct {
	mu       sync.Mutex
	token    string
	present  bool
	readErr  error
	writeErr error
	ops      []string
}

var _ tokenstore.TokenStore = (*fakeStore)(nil)

func newFakeStore(token string) *fakeStore {
	return &fakeStore{token: token, present: token != ""}
}

func (s *fakeStore) Read(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "read")
	if s.readErr != nil {
		return "", s.readErr
	}
	if !s.present {
		return "", fmt.Errorf("%w: empty", tokenstore.ErrNotFound)
	}
	return s.token, nil
}

func (s *fakeStore) Write(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "write:"+token)
	if s.writeErr != nil {
		return s.writeErr
	}
	s.token, s.present = token, true
	return nil
}

func (s *fakeStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "delete")
	s.token, s.present = "", false
	return nil
}

func (s *fakeStore) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeStore) stored() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.present
}

// fakeAPI scripts the remote auth endpoint. Results are consumed in order;
// once exhausted the last one repeats.
type fakeAPI struct {
	mu          sync.Mutex
	infoErrs    []error
	signIns     []signInResult
	infoCalls   int
	signInCalls int
}

type signInResult struct {
	token string
	err   error
}

func (f *fakeAPI) UserInfo(_ context.Context, _ string) (*p123.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	var err error
	if len(f.infoErrs) > 0 {
		err = f.infoErrs[min(f.infoCalls, len(f.infoErrs))-1]
	}
	if err != nil {
		return nil, err
	}
	return &p123.UserInfo{UID: 1, Nickname: "alice"}, nil
}

func (f *fakeAPI) SignIn(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	if len(f.signIns) == 0 {
		return "", errNetwork
	}
	r := f.signIns[min(f.signInCalls, len(f.signIns))-1]
	return r.token, r.err
}

func (f *fakeAPI) calls() (info, signIn int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls, f.signInCalls
}

func expiredErr() error {
	return &p123.APIError{StatusCode: 401, Code: 401, Message: "token is expired", Err: p123.ErrTokenExpired}
}

// captureLogs routes the default logger into a buffer for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}
