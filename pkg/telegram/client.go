// Package telegram wraps the Telegram Bot API for webhook-driven bots.
//
// Incoming webhook bodies are decoded into a flattened Message that carries
// everything the bot handlers need; outgoing traffic goes through a small
// Bot wrapper so handlers can be tested against a fake client.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const fileDownloadTimeout = 30 * time.Second

// ErrNotAMessage marks updates that carry no message payload, such as
// callback queries or edited messages.
var ErrNotAMessage = errors.New("update contains no message")

// Actions accepted by SendAction.
const (
	ActionTyping      = "typing"
	ActionUploadPhoto = "upload_photo"
)

// Message is one inbound chat message in flattened form.
type Message struct {
	ChatID      int64
	UserID      int64
	FirstName   string
	FullName    string
	Text        string
	HasPhoto    bool
	PhotoFileID string

	// Command is the leading slash command without the slash, empty for
	// plain content. Args holds the words after the command.
	Command string
	Args    []string
}

// ParseUpdate decodes a webhook body into a Message.
func ParseUpdate(raw []byte) (*Message, error) {
	var update telego.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}

	message := update.Message
	if message == nil {
		return nil, ErrNotAMessage
	}
	if message.From == nil {
		return nil, errors.New("message has no sender")
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}

	parsed := &Message{
		ChatID:    message.Chat.ID,
		UserID:    message.From.ID,
		FirstName: message.From.FirstName,
		FullName:  fullName(message.From),
		Text:      text,
	}

	if fileID := largestPhoto(message.Photo); fileID != "" {
		parsed.HasPhoto = true
		parsed.PhotoFileID = fileID
	}

	parsed.Command, parsed.Args = parseCommand(text)
	return parsed, nil
}

// fullName joins first and last name the way Telegram displays them.
func fullName(user *telego.User) string {
	if user.LastName == "" {
		return user.FirstName
	}
	return user.FirstName + " " + user.LastName
}

// largestPhoto picks the highest-resolution size from a photo attachment.
func largestPhoto(sizes []telego.PhotoSize) string {
	best := ""
	bestArea := 0
	for _, size := range sizes {
		area := size.Width * size.Height
		if area > bestArea {
			best = size.FileID
			bestArea = area
		}
	}
	return best
}

// parseCommand splits "/cmd@botname arg1 arg2" into the command name and
// its arguments. Non-command text yields an empty command.
func parseCommand(text string) (string, []string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil
	}

	fields := strings.Fields(trimmed)
	command := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	if command == "" {
		return "", nil
	}
	return strings.ToLower(command), fields[1:]
}

// Bot sends messages and chat actions through the Telegram Bot API.
type Bot struct {
	api   *telego.Bot
	httpc *http.Client
}

// NewBot authenticates the token against the Bot API.
func NewBot(token string) (*Bot, error) {
	api, err := telego.NewBot(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	return &Bot{
		api:   api,
		httpc: &http.Client{Timeout: fileDownloadTimeout},
	}, nil
}

// SendMessage sends plain text without any formatting.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := b.api.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

// SendHTML sends text with Telegram HTML formatting and link previews off.
func (b *Bot) SendHTML(ctx context.Context, chatID int64, text string) error {
	params := tu.Message(tu.ID(chatID), text).
		WithParseMode(telego.ModeHTML).
		WithLinkPreviewOptions(&telego.LinkPreviewOptions{IsDisabled: true})
	_, err := b.api.SendMessage(ctx, params)
	return err
}

// SendAction sends a chat action such as "typing".
func (b *Bot) SendAction(ctx context.Context, chatID int64, action string) error {
	return b.api.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}

// DownloadFile fetches a file's bytes by its Bot API file identifier.
func (b *Bot) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.api.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build file download request: %w", err)
	}

	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SetWebhook points the Bot API at the given delivery URL.
func (b *Bot) SetWebhook(ctx context.Context, url string) error {
	return b.api.SetWebhook(ctx, &telego.SetWebhookParams{URL: url})
}
