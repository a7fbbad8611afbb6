package bots

import (
	"context"

	"bothive/pkg/telegram"
	"bothive/pkg/worker"
)

// Ping builds the handler set for a liveness bot. It answers /start and
// ignores everything else, which makes it a cheap end-to-end probe for the
// webhook path.
func Ping() worker.Handlers {
	return worker.Handlers{
		Commands: map[string]worker.HandlerFunc{
			"start": pingStart,
		},
	}
}

func pingStart(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
	return chat.SendMessage(ctx, msg.ChatID, "👋 Alive and listening.")
}
