package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/p123dav/internal/davfs"
	"github.com/florianilch/p123dav/internal/davserver"
	"github.com/florianilch/p123dav/internal/p123"
	"github.com/florianilch/p123dav/internal/tokensource"
)

// App orchestrates the lifecycle of the WebDAV server and related services.
type App struct {
	cfg    *Config
	fs     *davfs.FileSystem
	server *davserver.Server
}

// New settles the token and builds the WebDAV server. A token lifecycle
// failure is returned before any server exists or any port is bound.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	manager, err := newManager(cfg, p123.NewClient(cfg.Upstream.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	token, err := manager.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}

	tokenSource, err := newTokenSource(token, manager, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create token source: %w", err)
	}

	client := p123.NewClient(cfg.Upstream.BaseURL, p123.WithTokenSource(tokenSource))

	fsys, err := davfs.New(client, davfs.WithTTL(cfg.Provider.TTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem: %w", err)
	}

	server, err := davserver.New(fsys, davserver.WithMountPath(cfg.Server.MountPath))
	if err != nil {
		fsys.Close()
		return nil, fmt.Errorf("failed to create webdav server: %w", err)
	}

	return &App{
		cfg:    cfg,
		fs:     fsys,
		server: server,
	}, nil
}

// Handler returns the HTTP handler serving the drive.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	shutdownFuncs := []func(context.Context) error{
		func(context.Context) error {
			a.fs.Close()
			return nil
		},
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting webdav server", "address", address, "mount_path", a.cfg.Server.MountPath)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		a.fs.Close()
		return fmt.Errorf("webdav server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "webdav server runtime error", "error", err)
				return fmt.Errorf("webdav server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", a.server.Addr().String())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// Authenticate settles the token like New does and reports whose it is,
// without building the server.
func Authenticate(ctx context.Context, cfg *Config) (*p123.UserInfo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := p123.NewClient(cfg.Upstream.BaseURL)

	manager, err := newManager(cfg, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	token, err := manager.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}

	info, err := client.UserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	return info, nil
}

// authClient is the part of the 123pan client the token lifecycle talks to.
type authClient interface {
	tokensource.Authenticator
	tokensource.IdentityChecker
}

// newManager wires the token lifecycle from configuration. No I/O is performed.
func newManager(cfg *Config, api authClient) (*tokensource.Manager, error) {
	store, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	validator, err := tokensource.NewValidator(api)
	if err != nil {
		return nil, err
	}

	acquirer, err := tokensource.NewAcquirer(api,
		tokensource.WithMaxRetries(cfg.Auth.MaxRetries),
		tokensource.WithRetryDelay(cfg.Auth.RetryDelay),
	)
	if err != nil {
		return nil, err
	}

	return tokensource.NewManager(store, validator, acquirer, cfg.Credentials())
}

// newTokenSource keeps the startup token fixed unless runtime refresh is enabled.
func newTokenSource(token string, manager *tokensource.Manager, cfg ProviderConfig) (oauth2.TokenSource, error) {
	if !cfg.Refresh {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
	}
	ts, err := NewPersistentTokenSource(token, manager)
	if err != nil {
		return nil, err
	}
	return ts, nil
}
