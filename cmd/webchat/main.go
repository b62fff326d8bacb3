// Package main is a terminal chat client. It hosts the web chat widget the way
// the site page does: one visitor profile, one conversation per run.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sppetrol/webchat/internal/config"
	"github.com/sppetrol/webchat/internal/identity"
	"github.com/sppetrol/webchat/internal/logging"
	"github.com/sppetrol/webchat/internal/model/chat"
	"github.com/sppetrol/webchat/internal/service/webchat"
	"github.com/sppetrol/webchat/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// keep log lines off the chat transcript unless asked for
	level := cfg.Log.Level
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	logging.Init(logging.Config{Level: level, Pretty: true, Service: "webchat"}, os.Stderr)

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		logging.L().Error().Err(err).Msg("webchat exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := logging.L()

	store := openProfile(ctx, cfg.Storage)
	defer store.Close()

	visitorID := identity.NewProvider(store).GetOrCreateVisitorID(ctx)

	endpoints, err := webchat.ResolveEndpoints(cfg.Client.SiteOrigin, cfg.Client.APIOrigin, cfg.Client.WSOrigin)
	if err != nil {
		return err
	}
	client, err := webchat.NewAPIClient(endpoints, &http.Client{Timeout: cfg.Client.RequestTimeout})
	if err != nil {
		return err
	}

	var outMu sync.Mutex
	opts := webchat.DefaultOptions()
	opts.Greeting = cfg.Client.Greeting
	opts.FailureNotice = cfg.Client.FailureNotice
	opts.PollInterval = cfg.Client.PollInterval
	opts.Listener = func(msg chat.Message) {
		outMu.Lock()
		defer outMu.Unlock()
		printMessage(out, msg)
	}

	widget := webchat.New(client, visitorID, opts)
	defer widget.Close()

	logger.Info().Str(logging.FieldVisitorID, visitorID).Str("api", endpoints.APIOrigin).Msg("chat ready")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "/quit" {
				return nil
			}

			err := widget.Send(ctx, input)
			switch {
			case err == nil:
			case errors.Is(err, webchat.ErrWidgetClosed):
				return nil
			default:
				// the failure notice is already in the transcript
				logger.Debug().Err(err).Msg("send failed")
			}
		}
	}
}

// openProfile returns the durable visitor profile, or an in-memory one when
// the path is empty or unusable.
func openProfile(ctx context.Context, cfg config.StorageConfig) storage.Store {
	if cfg.ProfilePath == "" {
		return storage.NewMemoryStore()
	}
	store, err := storage.OpenSQLite(ctx, cfg.ProfilePath)
	if err != nil {
		logging.L().Warn().Err(err).Str("path", cfg.ProfilePath).Msg("profile storage unavailable, visitor id will not persist")
		return storage.NewMemoryStore()
	}
	return store
}

func printMessage(out io.Writer, msg chat.Message) {
	who := "Siz"
	if msg.IsAdmin() {
		who = "Operator"
	}
	fmt.Fprintf(out, "%s: %s\n", who, msg.Content)
}
