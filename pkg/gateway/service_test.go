package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bothive/pkg/config"
)

type fakeBotClient struct {
	mu       sync.Mutex
	messages []string
	webhooks []string
}

func (f *fakeBotClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeBotClient) SendHTML(ctx context.Context, chatID int64, text string) error {
	return f.SendMessage(ctx, chatID, text)
}

func (f *fakeBotClient) SendAction(ctx context.Context, chatID int64, action string) error {
	return nil
}

func (f *fakeBotClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, errors.New("no files")
}

func (f *fakeBotClient) SetWebhook(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, url)
	return nil
}

func (f *fakeBotClient) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func waitReady(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		resp, err := http.Get(baseURL + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("gateway never became ready")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func updateBody(text string) string {
	return fmt.Sprintf(`{
		"update_id": 1,
		"message": {
			"message_id": 1,
			"from": {"id": 100, "is_bot": false, "first_name": "Ada"},
			"chat": {"id": 200, "type": "private"},
			"text": %q
		}
	}`, text)
}

func TestGatewayEndToEnd(t *testing.T) {
	askServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"the answer"}`))
	}))
	defer askServer.Close()

	port := freePort(t)
	cfg := config.Config{
		Server: config.ServerConfig{
			Host:      "127.0.0.1",
			Port:      port,
			PublicURL: "https://bots.example.com",
		},
		Ask: config.AskConfig{BaseURL: askServer.URL, RequestTimeoutSeconds: 2},
		Bots: []config.BotConfig{
			{
				Name:        "helper",
				Kind:        "assistant",
				Token:       "token-helper",
				SessionFile: filepath.Join(t.TempDir(), "sessions.json"),
			},
			{Name: "probe", Kind: "ping", Token: "token-probe"},
		},
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	service := New(cfg, log)

	clients := map[string]*fakeBotClient{}
	var clientsMu sync.Mutex
	service.connect = func(token string) (BotClient, error) {
		clientsMu.Lock()
		defer clientsMu.Unlock()
		if client, ok := clients[token]; ok {
			return client, nil
		}
		client := &fakeBotClient{}
		clients[token] = client
		return client, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- service.Run(ctx) }()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, baseURL)

	resp, err := http.Post(baseURL+"/token-helper", "application/json", strings.NewReader(updateBody("what is go")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		clientsMu.Lock()
		client := clients["token-helper"]
		clientsMu.Unlock()
		if client == nil {
			return false
		}
		for _, msg := range client.sent() {
			if msg == "the answer" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "assistant reply never arrived")

	clientsMu.Lock()
	helper := clients["token-helper"]
	clientsMu.Unlock()
	require.NotEmpty(t, helper.webhooks)
	require.Equal(t, "https://bots.example.com/token-helper", helper.webhooks[0])

	resp, err = http.Post(baseURL+"/bad-token", "application/json", strings.NewReader(updateBody("hi")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestGatewayIsolatesFailedBot(t *testing.T) {
	port := freePort(t)
	cfg := config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: port},
		Ask:    config.AskConfig{BaseURL: "http://127.0.0.1:1"},
		Bots: []config.BotConfig{
			{Name: "broken", Kind: "ping", Token: "token-broken"},
			{Name: "healthy", Kind: "ping", Token: "token-healthy"},
		},
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	service := New(cfg, log)
	service.connect = func(token string) (BotClient, error) {
		if token == "token-broken" {
			return nil, errors.New("unauthorized")
		}
		return &fakeBotClient{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- service.Run(ctx) }()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, baseURL)

	resp, err := http.Post(baseURL+"/token-broken", "application/json", strings.NewReader(updateBody("/start")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "failed bot token must not be routed")

	resp, err = http.Post(baseURL+"/token-healthy", "application/json", strings.NewReader(updateBody("/start")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestGatewayRefusesEmptyStart(t *testing.T) {
	cfg := config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: freePort(t)},
		Bots:   []config.BotConfig{{Name: "only", Kind: "ping", Token: "t"}},
	}
	service := New(cfg, nil)
	service.connect = func(token string) (BotClient, error) {
		return nil, errors.New("unauthorized")
	}

	if err := service.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with no startable bots, want error")
	}
}
