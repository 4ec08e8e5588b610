package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/hanamilabs/tg-forwarder/internal/app"
	"github.com/hanamilabs/tg-forwarder/internal/config"
	"github.com/hanamilabs/tg-forwarder/internal/logging"
	"github.com/hanamilabs/tg-forwarder/internal/service"
	"github.com/hanamilabs/tg-forwarder/internal/storage"
	"github.com/hanamilabs/tg-forwarder/internal/telegram"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	err := dispatch(args, stdout)
	switch {
	case err == nil:
		return exitOK
	case config.IsConfigError(err):
		logging.Bootstrap().Error(err.Error())
		return exitConfig
	case errors.As(err, new(usageError)):
		fmt.Fprintf(os.Stderr, "tg-forwarder: %v\n", err)
		return exitConfig
	default:
		fmt.Fprintf(os.Stderr, "tg-forwarder: %v\n", err)
		return exitFatal
	}
}

func dispatch(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("tg-forwarder", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.StringP("config", "c", os.Getenv("TG_FORWARDER_CONFIG"), "YAML file with settings; environment variables take precedence")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: tg-forwarder [serve|check|whoami] [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError{err: err}
	}

	command := "serve"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		return usageError{err: fmt.Errorf("unexpected arguments %q", fs.Args()[1:])}
	}

	switch command {
	case "serve":
		return runServe(*configPath)
	case "check":
		return runCheck(*configPath, stdout)
	case "whoami":
		return runWhoami(*configPath, stdout)
	default:
		return usageError{err: fmt.Errorf("unknown command %q", command)}
	}
}

func runServe(configPath string) error {
	// Signals are captured first so a stop during startup still exits 0.
	ctx, stop := app.NotifyShutdown(context.Background(), logging.Bootstrap())
	defer stop()

	settings, err := config.LoadFromEnvAndFile(configPath)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(settings)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	store, err := openStore(settings)
	if err != nil {
		logger.Error("unhandled fatal error", "error", err)
		return err
	}
	defer store.Close()
	if ctx.Err() != nil {
		logger.Info("shutdown requested during startup", "cause", context.Cause(ctx))
		return nil
	}

	client := newClient(logger, store, settings)
	relay := service.NewRelayService(logger, client, service.RelayOptions{
		Destination:        settings.DestinationChat,
		ForwardOwnMessages: settings.ForwardOwnMessages,
		MaxInFlight:        settings.RelayMaxInFlight,
		PreserveOrder:      settings.RelayPreserveOrder,
	})
	forwarder := service.NewForwarder(logger, client, relay, service.ForwarderOptions{
		SourceChat:      settings.SourceChat,
		DestinationChat: settings.DestinationChat,
		OnlineMessage:   settings.OnlineMessage,
	})

	var health *app.HealthServer
	if settings.HealthPort > 0 {
		health = app.NewHealthServer(settings, logger, relay.Stats, client)
		go func() {
			if err := health.ListenAndServe(); err != nil && !app.IsServerClosed(err) {
				logger.Error("health server stopped", "error", err)
			}
		}()
		logger.Info("health server listening", "port", settings.HealthPort)
	}

	runErr := forwarder.Run(ctx)

	if health != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := health.Shutdown(shutdownCtx); err != nil && !app.IsServerClosed(err) {
			logger.Warn("health server shutdown failed", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("unhandled fatal error", "error", runErr)
		return runErr
	}
	return nil
}

func runCheck(configPath string, stdout io.Writer) error {
	settings, err := config.LoadFromEnvAndFile(configPath)
	if err != nil {
		return err
	}

	lines := []string{
		config.KeyAPIID + "=" + strconv.FormatInt(settings.APIID, 10),
		config.KeyAPIHash + "=" + redact(settings.APIHash),
		config.KeySessionName + "=" + settings.SessionName,
		config.KeySourceChat + "=" + settings.SourceChat,
		config.KeyDestinationChat + "=" + settings.DestinationChat,
		config.KeyForwardOwnMessages + "=" + strconv.FormatBool(settings.ForwardOwnMessages),
		config.KeyOnlineMessage + "=" + settings.OnlineMessage,
		config.KeyLogLevel + "=" + settings.LogLevel,
		config.KeyDataDir + "=" + settings.DataDir,
		config.KeyAPIEndpoint + "=" + settings.APIEndpoint,
		config.KeyHealthPort + "=" + strconv.Itoa(settings.HealthPort),
		config.KeyRelayMaxInFlight + "=" + strconv.Itoa(settings.RelayMaxInFlight),
		config.KeyRelayPreserveOrder + "=" + strconv.FormatBool(settings.RelayPreserveOrder),
	}
	_, err = fmt.Fprintln(stdout, strings.Join(lines, "\n"))
	return err
}

func runWhoami(configPath string, stdout io.Writer) error {
	settings, err := config.LoadFromEnvAndFile(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewWithWriter(os.Stderr, settings.LogLevel)

	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	identity, err := service.Whoami(context.Background(), logger, newClient(logger, store, settings))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s (@%s) id=%d session=%s\n",
		identity.DisplayName(), identity.UsernameOrPlaceholder(), identity.ID, settings.SessionName)
	return err
}

func openStore(settings config.Settings) (*storage.SQLiteStore, error) {
	store, err := storage.Open(settings.SessionPath)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", settings.SessionPath, err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newClient(logger *slog.Logger, store *storage.SQLiteStore, settings config.Settings) *telegram.Client {
	return telegram.NewClient(logger, store, telegram.Options{
		Token:       settings.BotToken(),
		APIEndpoint: settings.APIEndpoint,
		SessionName: settings.SessionName,
	})
}

func redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
