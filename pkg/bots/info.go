package bots

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bothive/pkg/telegram"
	"bothive/pkg/worker"
)

// InfoDeps carries the services the info bot handlers close over.
type InfoDeps struct {
	Log *slog.Logger
}

// Info builds the handler set for a diagnostics bot that echoes back what
// Telegram knows about the sender.
func Info(deps InfoDeps) worker.Handlers {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bots.info")

	return worker.Handlers{
		Commands: map[string]worker.HandlerFunc{
			"start": infoStart,
			"info":  infoInfo,
			"echo":  infoEcho,
		},
		Content: infoContent(log),
	}
}

func infoStart(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
	greeting := fmt.Sprintf(
		"Hello %s!\n\n/info shows your identifiers\n/echo repeats what you send",
		msg.FirstName)
	return chat.SendMessage(ctx, msg.ChatID, greeting)
}

func infoInfo(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
	reply := fmt.Sprintf(
		"Name: %s\nUser ID: <code>%d</code>\nChat ID: <code>%d</code>",
		msg.FullName, msg.UserID, msg.ChatID)
	return chat.SendHTML(ctx, msg.ChatID, reply)
}

func infoEcho(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
	if len(msg.Args) == 0 {
		return chat.SendMessage(ctx, msg.ChatID, "Usage: /echo <text>")
	}
	return chat.SendMessage(ctx, msg.ChatID, strings.Join(msg.Args, " "))
}

func infoContent(log *slog.Logger) worker.HandlerFunc {
	return func(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
		if msg.Text == "" {
			log.Debug("Ignoring message without text", "chat_id", msg.ChatID)
			return nil
		}
		return chat.SendMessage(ctx, msg.ChatID, "Noted: "+msg.Text)
	}
}
