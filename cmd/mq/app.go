package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/medqueue/internal/api"
	"github.com/zulandar/medqueue/internal/config"
	"github.com/zulandar/medqueue/internal/conn"
	"github.com/zulandar/medqueue/internal/dashboard"
	"github.com/zulandar/medqueue/internal/db"
	"github.com/zulandar/medqueue/internal/metrics"
	"github.com/zulandar/medqueue/internal/socket"
	"github.com/zulandar/medqueue/internal/telegraph"
	"github.com/zulandar/medqueue/internal/telegraph/discord"
	"github.com/zulandar/medqueue/internal/telegraph/slack"
	"golang.org/x/term"
)

// notifyTimeout bounds one external notice delivery.
const notifyTimeout = 10 * time.Second

// app holds what every command builds from the config.
type app struct {
	cfg      *config.Config
	api      *api.Client
	notifier telegraph.Notifier
	async    *telegraph.Async
	metrics  *metrics.Collector
}

func loadApp(cmd *cobra.Command, configPath string) (*app, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	notifier, async, err := buildNotifier(cfg.Notify, cmd.OutOrStdout())
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		api:      api.New(cfg.Backend.BaseURL, &http.Client{Timeout: cfg.Backend.RequestTimeout}),
		notifier: notifier,
		async:    async,
		metrics:  metrics.New(),
	}, nil
}

// close waits for queued external notices.
func (a *app) close() {
	if a.async != nil {
		a.async.Wait()
	}
}

// buildNotifier prints notices to out and fans them out to every
// configured external channel in the background.
func buildNotifier(cfg config.NotifyConfig, out io.Writer) (telegraph.Notifier, *telegraph.Async, error) {
	var external telegraph.Multi
	if cfg.Command != "" {
		external = append(external, telegraph.Command{Template: cfg.Command})
	}
	if cfg.SlackWebhookURL != "" {
		n, err := slack.New(slack.Opts{WebhookURL: cfg.SlackWebhookURL, Username: "medqueue"})
		if err != nil {
			return nil, nil, err
		}
		external = append(external, n)
	}
	if cfg.DiscordWebhookID != "" {
		n, err := discord.New(discord.Opts{
			WebhookID:    cfg.DiscordWebhookID,
			WebhookToken: cfg.DiscordWebhookToken,
			Username:     "medqueue",
		})
		if err != nil {
			return nil, nil, err
		}
		external = append(external, n)
	}

	local := telegraph.NewWriter(out)
	if len(external) == 0 {
		return local, nil, nil
	}
	async := telegraph.NewAsync(external, notifyTimeout)
	return telegraph.Multi{local, async}, async, nil
}

func socketOptions(s config.SocketConfig) socket.Options {
	return socket.Options{
		Path:                 s.Path,
		Transports:           s.Transports,
		Timeout:              s.Timeout,
		Reconnection:         s.ReconnectionEnabled(),
		ReconnectionAttempts: s.ReconnectionAttempts,
		ReconnectionDelay:    s.ReconnectionDelay,
		ReconnectionDelayMax: s.ReconnectionDelayMax,
		RandomizationFactor:  s.RandomizationFactor,
	}
}

// newManager builds the connection manager over the configured socket URL.
func (a *app) newManager() *conn.Manager {
	url, opts := a.cfg.Backend.SocketURL, socketOptions(a.cfg.Socket)
	return conn.New(conn.Options{
		Dial:     func() socket.Conn { return socket.NewClient(url, opts) },
		Notifier: a.notifier,
		Metrics:  a.metrics,
	})
}

// openJournal opens the booking journal and returns its closer.
func openJournal(cfg *config.Config) (*db.Bookings, func(), error) {
	gormDB, err := db.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open booking journal: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("open booking journal: %w", err)
	}
	return db.NewBookings(gormDB), func() { sqlDB.Close() }, nil
}

// serveStatus runs the local status server for p until ctx ends.
func (a *app) serveStatus(ctx context.Context, p dashboard.Provider, out io.Writer) {
	if a.cfg.Status.Port == 0 {
		return
	}
	go func() {
		err := dashboard.Start(ctx, dashboard.StartOpts{
			Provider: p,
			Metrics:  a.metrics.Handler(),
			Port:     a.cfg.Status.Port,
			Out:      out,
		})
		if err != nil {
			log.Printf("mq: status server: %v", err)
		}
	}()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(out io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
