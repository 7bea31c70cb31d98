package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/p123dav/internal/app"
	"github.com/florianilch/p123dav/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return rootCommand().Run(ctx, args)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "p123dav",
		Usage: "Serve a 123pan drive over WebDAV",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (.json or .toml)",
				Value:   DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "auth--storage",
				Usage: "where the token is cached (file|env|keyring)",
				Value: string(app.DefaultConfigAuthStorage),
			},
			&cli.StringFlag{
				Name:  "auth--file",
				Usage: "token file for file storage",
				Value: app.DefaultConfigAuthFile,
			},
			&cli.IntFlag{
				Name:  "auth--max-retries",
				Usage: "sign-in attempts before giving up",
				Value: app.DefaultConfigAuthMaxRetries,
			},
			&cli.DurationFlag{
				Name:  "auth--retry-delay",
				Usage: "pause between sign-in attempts",
				Value: app.DefaultConfigAuthRetryDelay,
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			authCommand(),
			initCommand(),
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "obtain a token and serve the drive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "server--mount-path",
				Usage: "URL prefix the drive is served below",
			},
			&cli.StringFlag{
				Name:  "upstream--base-url",
				Usage: "123pan API base URL",
				Value: app.DefaultConfigUpstreamBaseURL,
			},
			&cli.DurationFlag{
				Name:  "provider--ttl",
				Usage: "how long folder listings are cached",
				Value: app.DefaultConfigProviderTTL,
			},
			&cli.BoolFlag{
				Name:  "provider--refresh",
				Usage: "replace the token when it expires while serving",
			},
		},
		Action: startAction,
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:   "auth",
		Usage:  "obtain a token and print the account it belongs to",
		Action: authAction,
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "write the config file with the account credentials",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite an existing config file",
			},
		},
		Action: initAction,
	}
}

// setup loads the configuration and installs logging. The returned function
// flushes exported logs.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, func(), error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var opts []observability.Option
	if cfg.Telemetry.Enabled() {
		opts = append(opts, observability.WithOTLP(cfg.Telemetry.OTLPEndpoint, string(cfg.Telemetry.OTLPProtocol)))
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	flush := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
		}
	}

	return cfg, flush, nil
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, flush, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func authAction(ctx context.Context, cmd *cli.Command) error {
	cfg, flush, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush()

	info, err := app.Authenticate(ctx, cfg)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	_, err = fmt.Fprintf(cmd.Root().Writer, "authenticated as %s (uid %d)\n", info.Nickname, info.UID)
	return err
}

func initAction(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" {
		return fmt.Errorf("no config path given")
	}

	root := cmd.Root()
	username, password, err := promptCredentials(root.Reader, root.Writer)
	if err != nil {
		return err
	}

	if err := writeConfigFile(path, username, password, cmd.Bool("force")); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		return fmt.Errorf("failed to write config: %w", err)
	}

	_, err = fmt.Fprintf(root.Writer, "wrote %s\n", path)
	return err
}
