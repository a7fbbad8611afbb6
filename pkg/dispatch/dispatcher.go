package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bothive/pkg/bus"
)

// ErrUnknownToken marks webhook deliveries for tokens no bot owns.
var ErrUnknownToken = errors.New("unknown bot token")

// Dispatcher validates webhook bodies and hands them to the owning bot's
// queue.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		log:      log.With("component", "dispatch"),
	}
}

// Dispatch enqueues one webhook body for the bot owning token.
//
// The body is only checked for JSON well-formedness here; full decoding is
// the worker's job, so one malformed field cannot block the webhook response.
func (d *Dispatcher) Dispatch(token string, body []byte) error {
	reg, ok := d.registry.Lookup(token)
	if !ok {
		return ErrUnknownToken
	}

	if !json.Valid(body) {
		return fmt.Errorf("malformed update body for bot %s", reg.DisplayName)
	}

	update := bus.Update{
		ID:         uuid.NewString(),
		Payload:    append(json.RawMessage(nil), body...),
		ReceivedAt: time.Now(),
	}
	if err := reg.Queue.Enqueue(update); err != nil {
		return fmt.Errorf("enqueue update for bot %s: %w", reg.DisplayName, err)
	}

	d.log.Debug("Dispatched update", "bot", reg.DisplayName, "update_id", update.ID, "bytes", len(body))
	return nil
}
