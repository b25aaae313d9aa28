package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jordanhubbard/ouroboros/internal/auth"
	"github.com/jordanhubbard/ouroboros/internal/hotreload"
	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/messagebus"
	"github.com/jordanhubbard/ouroboros/internal/ouroboros"
	"github.com/jordanhubbard/ouroboros/internal/telemetry"
	"github.com/jordanhubbard/ouroboros/pkg/config"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

const version = "0.1.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ouroboros",
		Short: "Ouroboros - autonomous work item agent",
		Long: `ouroboros claims pending work items, generates code for them through the
configured generation backends, publishes the result and mirrors every item
into the issue tracker.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHashKeyCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newSubmitCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults plus
// environment when the file does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return cfg, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller, tracker sync and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logs := logging.NewBuffer(logging.DefaultBufferSize)
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, logs)
	log := logging.Component("main")

	shutdownTelemetry, err := telemetry.InitTelemetry(context.Background(), cfg.Telemetry)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize telemetry")
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				log.Warn().Err(err).Msg("error shutting down telemetry")
			}
		}()
	}

	app, err := ouroboros.New(cfg, ouroboros.WithLogBuffer(logs), ouroboros.WithVersion(version))
	if err != nil {
		return fmt.Errorf("failed to create ouroboros: %w", err)
	}
	defer app.Shutdown()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Initialize(runCtx); err != nil {
		return fmt.Errorf("failed to initialize ouroboros: %w", err)
	}

	if cfg.HotReload.Enabled {
		watcher, err := hotreload.NewWatcher(configPath, app.ApplyConfig)
		if err != nil {
			log.Warn().Err(err).Msg("hot-reload initialization failed")
		} else {
			go watcher.Run(runCtx)
		}
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Str("version", version).Msg("ouroboros API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err = <-serveErr:
		log.Error().Err(err).Msg("http server error")
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = httpSrv.Shutdown(shutdownCtx)
	return err
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d backend(s), default %s, database %s\n",
				len(cfg.LLM.Backends), cfg.LLM.DefaultModelID, cfg.Database.Type)
			return nil
		},
	}
}

func newHashKeyCommand() *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print a bcrypt hash of an API key for security.api_keys",
		Long: `Print a bcrypt hash of an API key. The key is read from the argument,
from a hidden terminal prompt, or generated with --generate.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			switch {
			case generate:
				key = auth.GenerateAPIKey()
				fmt.Fprintf(cmd.ErrOrStderr(), "key:  %s\n", key)
			case len(args) == 1:
				key = args[0]
			default:
				var err error
				key, err = readSecret(cmd, "API key: ")
				if err != nil {
					return err
				}
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a new random key")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return errors.New("security.jwt_secret must be set to issue tokens offline")
			}
			token, err := auth.NewManager(cfg.Security).GenerateToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ouroborosctl", "Token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Token role: admin or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newSubmitCommand() *cobra.Command {
	var createdBy string
	cmd := &cobra.Command{
		Use:   "submit <description>",
		Short: "Queue a work item on the NATS intake subject",
		Long: `Publishes a submission to intake.subject on the configured NATS server.
A running server with intake.enabled picks it up and creates the work item.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			description := strings.Join(args, " ")
			if err := models.ValidateDescription(description); err != nil {
				return err
			}
			mb, err := messagebus.NewNatsMessageBus(messagebus.Config{
				URL:        cfg.Publish.NATSURL,
				StreamName: cfg.Publish.StreamName,
			})
			if err != nil {
				return err
			}
			defer mb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			err = mb.PublishSubmission(ctx, cfg.Intake.Subject, &messagebus.SubmissionMessage{
				Description: description,
				CreatedBy:   createdBy,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued on %s\n", cfg.Intake.Subject)
			return nil
		},
	}
	cmd.Flags().StringVar(&createdBy, "created-by", os.Getenv("USER"), "Originator tag")
	return cmd
}

// readSecret prompts without echo on a terminal, otherwise reads one line.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
