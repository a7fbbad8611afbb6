// Package gateway assembles the full service: one webhook server in front
// of a worker and queue per configured bot.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"bothive/pkg/askapi"
	"bothive/pkg/bots"
	"bothive/pkg/bus"
	"bothive/pkg/config"
	"bothive/pkg/dispatch"
	"bothive/pkg/session"
	"bothive/pkg/telegram"
	"bothive/pkg/worker"
)

const (
	defaultHost        = "0.0.0.0"
	defaultPort        = 8080
	defaultAskTimeout  = 30 * time.Second
	shutdownTimeout    = 5 * time.Second
	workerStopTimeout  = 35 * time.Second
	defaultSessionFile = "sessions.json"
)

// BotClient is the full chat surface one bot needs: the worker-facing send
// operations plus webhook management.
type BotClient interface {
	worker.ChatClient
	SetWebhook(ctx context.Context, url string) error
}

// runningBot tracks one successfully started bot.
type runningBot struct {
	name   string
	queue  *bus.Queue
	worker *worker.Worker
}

// Service wires configuration into queues, workers and the webhook server,
// and supervises them until shutdown.
type Service struct {
	cfg   config.Config
	log   *slog.Logger
	ready atomic.Bool

	// connect is swapped out by tests to avoid real Bot API calls.
	connect func(token string) (BotClient, error)
}

// New creates the service supervisor.
func New(cfg config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg: cfg,
		log: log.With("component", "gateway"),
		connect: func(token string) (BotClient, error) {
			return telegram.NewBot(token)
		},
	}
}

// Run starts every configured bot and serves webhooks until the context is
// cancelled or the listener fails. A bot that cannot start is logged and
// left unrouted; its siblings run normally.
func (s *Service) Run(ctx context.Context) error {
	registry := dispatch.NewRegistry()
	running := s.startBots(ctx, registry)
	if len(running) == 0 {
		return errors.New("no bots could be started")
	}

	dispatcher := dispatch.NewDispatcher(registry, s.log)
	server := dispatch.NewServer(dispatcher, s.ready.Load, s.log)

	serverErrors := make(chan error, 1)
	go func() {
		if err := server.Start(s.listenAddr()); err != nil {
			serverErrors <- fmt.Errorf("webhook server: %w", err)
		}
	}()

	s.registerWebhooks(ctx, running)
	s.ready.Store(true)
	s.log.Info("Gateway running", "bots", len(running), "address", s.listenAddr())

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErrors:
		runErr = err
	}

	s.ready.Store(false)
	s.shutdown(server, running)
	return runErr
}

// startBots builds and starts a queue plus worker for each configured bot,
// registering webhook routes only for bots that actually came up.
func (s *Service) startBots(ctx context.Context, registry *dispatch.Registry) []runningBot {
	stores := make(map[string]*session.Store)
	ask := askapi.New(s.cfg.Ask.BaseURL, s.askTimeout(), s.log)

	var running []runningBot
	for _, botCfg := range s.cfg.Bots {
		handlers, err := s.buildHandlers(botCfg, ask, stores)
		if err != nil {
			s.log.Error("Skipping bot", "bot", botCfg.Name, "error", err)
			continue
		}

		queue := bus.NewQueue(botCfg.QueueSize)
		token := botCfg.Token
		connect := func(context.Context) (worker.ChatClient, error) {
			return s.connect(token)
		}

		w := worker.New(botCfg.Name, queue, connect, handlers, s.log)
		if err := w.Start(ctx); err != nil {
			s.log.Error("Bot failed to start, token not routed", "bot", botCfg.Name, "error", err)
			continue
		}

		if err := registry.Register(dispatch.Registration{
			Token:       token,
			DisplayName: botCfg.Name,
			Queue:       queue,
		}); err != nil {
			s.log.Error("Failed to register bot route", "bot", botCfg.Name, "error", err)
			queue.Close()
			continue
		}

		running = append(running, runningBot{name: botCfg.Name, queue: queue, worker: w})
	}
	return running
}

// buildHandlers maps a configured kind to its handler set.
func (s *Service) buildHandlers(botCfg config.BotConfig, ask *askapi.Client, stores map[string]*session.Store) (worker.Handlers, error) {
	switch botCfg.Kind {
	case "assistant":
		store, err := s.sessionStore(botCfg, stores)
		if err != nil {
			return worker.Handlers{}, err
		}
		return bots.Assistant(bots.AssistantDeps{Ask: ask, Sessions: store, Log: s.log}), nil
	case "info":
		return bots.Info(bots.InfoDeps{Log: s.log}), nil
	case "ping":
		return bots.Ping(), nil
	default:
		return worker.Handlers{}, fmt.Errorf("unknown bot kind %q", botCfg.Kind)
	}
}

// sessionStore opens the bot's session file, sharing one store between bots
// configured with the same path.
func (s *Service) sessionStore(botCfg config.BotConfig, stores map[string]*session.Store) (*session.Store, error) {
	path := botCfg.SessionFile
	if path == "" {
		path = defaultSessionFile
	}
	if store, ok := stores[path]; ok {
		return store, nil
	}

	store, err := session.Open(path, s.log)
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", path, err)
	}
	stores[path] = store
	return store, nil
}

// registerWebhooks points each running bot's Bot API webhook at this server.
// Failures are logged only; deliveries may already be flowing from an
// earlier registration.
func (s *Service) registerWebhooks(ctx context.Context, running []runningBot) {
	publicURL := strings.TrimRight(s.cfg.Server.PublicURL, "/")
	if publicURL == "" {
		s.log.Warn("No public URL configured, skipping webhook registration")
		return
	}

	for _, bot := range s.cfg.Bots {
		if !isRunning(running, bot.Name) {
			continue
		}
		client, err := s.connect(bot.Token)
		if err != nil {
			s.log.Error("Failed to reach bot for webhook registration", "bot", bot.Name, "error", err)
			continue
		}
		if err := client.SetWebhook(ctx, publicURL+"/"+bot.Token); err != nil {
			s.log.Error("Failed to register webhook", "bot", bot.Name, "error", err)
			continue
		}
		s.log.Info("Webhook registered", "bot", bot.Name)
	}
}

func isRunning(running []runningBot, name string) bool {
	for _, bot := range running {
		if bot.name == name {
			return true
		}
	}
	return false
}

// shutdown stops the HTTP surface first so no new updates arrive, then lets
// every worker drain what it already has.
func (s *Service) shutdown(server *dispatch.Server, running []runningBot) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Webhook server shutdown failed", "error", err)
	}

	for _, bot := range running {
		bot.queue.Close()
	}

	deadline := time.After(workerStopTimeout)
	for _, bot := range running {
		select {
		case <-bot.worker.Done():
		case <-deadline:
			s.log.Warn("Worker did not stop in time", "bot", bot.name)
		}
	}
	s.log.Info("Gateway stopped")
}

func (s *Service) listenAddr() string {
	host := strings.TrimSpace(s.cfg.Server.Host)
	if host == "" {
		host = defaultHost
	}
	port := s.cfg.Server.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) askTimeout() time.Duration {
	if s.cfg.Ask.RequestTimeoutSeconds > 0 {
		return time.Duration(s.cfg.Ask.RequestTimeoutSeconds) * time.Second
	}
	return defaultAskTimeout
}
