// Package worker runs one consumer loop per bot, draining that bot's queue
// and dispatching each update to the bot's handlers in arrival order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"bothive/pkg/bus"
	"bothive/pkg/telegram"
)

const (
	defaultPollWait = time.Second
	drainTimeout    = 30 * time.Second
)

// State tracks a worker through its lifecycle. Transitions only move
// forward: Stopped -> Initializing -> Running -> Draining -> Stopped.
type State int32

const (
	StateStopped State = iota
	StateInitializing
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// ChatClient is the outbound surface handlers use to talk to the chat
// platform. *telegram.Bot satisfies it; tests substitute a fake.
type ChatClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendHTML(ctx context.Context, chatID int64, text string) error
	SendAction(ctx context.Context, chatID int64, action string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// HandlerFunc processes one inbound message. A returned error means the user
// received no reply; the worker reports the failure to the chat.
type HandlerFunc func(ctx context.Context, chat ChatClient, msg *telegram.Message) error

// Handlers routes messages for one bot. Commands are matched by name; every
// non-command message, and any command without an entry, goes to Content.
type Handlers struct {
	Commands map[string]HandlerFunc
	Content  HandlerFunc
}

// ConnectFunc authenticates against the chat platform during startup.
type ConnectFunc func(ctx context.Context) (ChatClient, error)

// Worker owns one bot's queue consumption.
type Worker struct {
	name     string
	queue    *bus.Queue
	connect  ConnectFunc
	handlers Handlers
	pollWait time.Duration
	log      *slog.Logger

	state atomic.Int32
	chat  ChatClient
	done  chan struct{}
}

// New creates a worker for the named bot. Start must be called before the
// worker consumes anything.
func New(name string, queue *bus.Queue, connect ConnectFunc, handlers Handlers, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		name:     name,
		queue:    queue,
		connect:  connect,
		handlers: handlers,
		pollWait: defaultPollWait,
		log:      log.With("component", "worker", "bot", name),
		done:     make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Done is closed once the consumer loop has fully stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start connects to the chat platform and launches the consumer loop.
//
// A connect failure stops this worker only; the caller decides whether the
// bot's token should still be routable.
func (w *Worker) Start(ctx context.Context) error {
	w.state.Store(int32(StateInitializing))

	chat, err := w.connect(ctx)
	if err != nil {
		w.state.Store(int32(StateStopped))
		close(w.done)
		return fmt.Errorf("connect bot %s: %w", w.name, err)
	}
	w.chat = chat

	w.state.Store(int32(StateRunning))
	w.log.Info("Worker started")
	go w.run(ctx)
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))
	defer w.log.Info("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		default:
		}

		update, ok := w.queue.Dequeue(ctx, w.pollWait)
		if !ok {
			if ctx.Err() != nil || w.queue.Closed() {
				w.drain()
				return
			}
			continue
		}
		w.process(ctx, update)
	}
}

// drain finishes whatever is already buffered before the worker exits, under
// a bounded deadline so shutdown cannot hang on a stuck backend.
func (w *Worker) drain() {
	w.state.Store(int32(StateDraining))

	remaining := w.queue.Len()
	if remaining > 0 {
		w.log.Info("Draining queued updates", "remaining", remaining)
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		update, ok := w.queue.Dequeue(ctx, time.Millisecond)
		if !ok {
			return
		}
		w.process(ctx, update)
	}
}

// process handles one update end to end. Failures are reported to the chat
// and never terminate the loop.
func (w *Worker) process(ctx context.Context, update bus.Update) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Panic while processing update", "update_id", update.ID, "panic", r)
		}
	}()

	msg, err := telegram.ParseUpdate(update.Payload)
	if err != nil {
		if errors.Is(err, telegram.ErrNotAMessage) {
			w.log.Debug("Skipping non-message update", "update_id", update.ID)
		} else {
			w.log.Warn("Dropping undecodable update", "update_id", update.ID, "error", err)
		}
		return
	}

	handler := w.handlers.Content
	if msg.Command != "" {
		if cmd, ok := w.handlers.Commands[msg.Command]; ok {
			handler = cmd
		}
	}
	if handler == nil {
		w.log.Debug("No handler for message", "update_id", update.ID, "command", msg.Command)
		return
	}

	if err := handler(ctx, w.chat, msg); err != nil {
		w.log.Error("Handler failed", "update_id", update.ID, "chat_id", msg.ChatID, "error", err)
		w.reportError(msg.ChatID, err)
		return
	}

	w.log.Info("Processed update",
		"update_id", update.ID,
		"chat_id", msg.ChatID,
		"command", msg.Command,
		"duration", time.Since(start))
}

// reportError tells the user their message failed. Best effort; a send
// failure here is only logged.
func (w *Worker) reportError(chatID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.chat.SendMessage(ctx, chatID, "❌ Bot Error: "+cause.Error()); err != nil {
		w.log.Error("Failed to deliver error reply", "chat_id", chatID, "error", err)
	}
}

// StartPresence keeps a chat action alive until the returned stop function
// is called. The action is sent immediately and refreshed every interval.
// Stop blocks until the refresh goroutine has exited, so no late action can
// arrive after the reply.
func StartPresence(ctx context.Context, chat ChatClient, chatID int64, action string, interval time.Duration) func() {
	presenceCtx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})

	send := func() {
		if err := chat.SendAction(presenceCtx, chatID, action); err != nil && presenceCtx.Err() == nil {
			slog.Debug("Failed to send chat action", "chat_id", chatID, "action", action, "error", err)
		}
	}

	send()

	go func() {
		defer close(finished)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-presenceCtx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()

	return func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(time.Second):
		}
	}
}
