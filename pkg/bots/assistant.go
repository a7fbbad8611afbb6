// Package bots defines the handler sets for each supported bot kind.
//
// A kind is a fixed personality wired from shared building blocks: the
// assistant answers questions through the ask backend, the info bot provides
// diagnostics, and the ping bot only proves the pipeline is alive.
package bots

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bothive/pkg/askapi"
	"bothive/pkg/session"
	"bothive/pkg/splitter"
	"bothive/pkg/telegram"
	"bothive/pkg/worker"
)

const presenceInterval = 4 * time.Second

// AssistantDeps carries the services the assistant handlers close over.
type AssistantDeps struct {
	Ask      *askapi.Client
	Sessions *session.Store
	Log      *slog.Logger
}

// Assistant builds the handler set for an AI question-answering bot.
func Assistant(deps AssistantDeps) worker.Handlers {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bots.assistant")

	return worker.Handlers{
		Commands: map[string]worker.HandlerFunc{
			"start":   assistantStart,
			"newchat": assistantNewChat(deps.Sessions),
			"mytoken": assistantMyToken(deps.Sessions),
		},
		Content: assistantContent(deps, log),
	}
}

func assistantStart(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
	greeting := fmt.Sprintf(
		"Hello %s! Send me a question or a photo and I will answer.\n\n"+
			"/newchat starts a fresh conversation\n"+
			"/mytoken shows your conversation token",
		msg.FirstName)
	return chat.SendMessage(ctx, msg.ChatID, greeting)
}

func assistantNewChat(sessions *session.Store) worker.HandlerFunc {
	return func(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
		token := sessions.ForceNew(userKey(msg))
		reply := fmt.Sprintf("🆕 Started a new conversation.\nYour token: <code>%s</code>", token)
		return chat.SendHTML(ctx, msg.ChatID, reply)
	}
}

func assistantMyToken(sessions *session.Store) worker.HandlerFunc {
	return func(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
		token := sessions.GetOrCreate(userKey(msg))
		reply := fmt.Sprintf("Your conversation token: <code>%s</code>", token)
		return chat.SendHTML(ctx, msg.ChatID, reply)
	}
}

func assistantContent(deps AssistantDeps, log *slog.Logger) worker.HandlerFunc {
	return func(ctx context.Context, chat worker.ChatClient, msg *telegram.Message) error {
		if msg.Text == "" && !msg.HasPhoto {
			log.Debug("Ignoring empty message", "chat_id", msg.ChatID)
			return nil
		}

		action := telegram.ActionTyping
		if msg.HasPhoto {
			action = telegram.ActionUploadPhoto
		}

		// The presence keepalive must be fully stopped before anything is
		// sent, or a stray "typing..." can land after the reply.
		stop := worker.StartPresence(ctx, chat, msg.ChatID, action, presenceInterval)
		stopped := false
		stopPresence := func() {
			if !stopped {
				stopped = true
				stop()
			}
		}
		defer stopPresence()

		var image []byte
		if msg.HasPhoto {
			var err error
			image, err = chat.DownloadFile(ctx, msg.PhotoFileID)
			if err != nil {
				return fmt.Errorf("download photo: %w", err)
			}
		}

		answer, err := deps.Ask.Ask(ctx, askapi.Request{
			UID:   deps.Sessions.GetOrCreate(userKey(msg)),
			Query: msg.Text,
			Image: image,
		})
		stopPresence()
		if err != nil {
			return err
		}

		for _, chunk := range splitter.Split(answer, splitter.DefaultMaxChunk) {
			if err := chat.SendHTML(ctx, msg.ChatID, chunk); err != nil {
				log.Warn("HTML send rejected, falling back to plain text", "chat_id", msg.ChatID, "error", err)
				if err := chat.SendMessage(ctx, msg.ChatID, splitter.StripTags(chunk)); err != nil {
					return fmt.Errorf("send reply: %w", err)
				}
			}
		}
		return nil
	}
}

// userKey is the session-store key for a message sender.
func userKey(msg *telegram.Message) string {
	return strconv.FormatInt(msg.UserID, 10)
}
