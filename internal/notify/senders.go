package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"

	"pokealert/internal/permanent"
)

const defaultSendTimeoutSec = 10

// TelegramSender posts messages to the Telegram Bot API.
// Params: bot token and destination chat id.
// Returns: Telegram alarm transport.
type TelegramSender struct {
	token  string
	chatID any

	mu     sync.Mutex
	client *tgbot.Bot
}

// NewTelegramSender creates the Telegram transport.
// Params: bot token and chat id (numeric ids become int64).
// Returns: sender; the bot client is built on Connect.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: normalizeChatID(chatID),
	}
}

// Kind returns the transport key.
// Params: none.
// Returns: static transport name.
func (s *TelegramSender) Kind() string {
	return "telegram"
}

// Connect builds the bot client once.
// Params: context (unused by client construction).
// Returns: client construction error; repeated calls reuse the client.
func (s *TelegramSender) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	client, err := tgbot.New(s.token, tgbot.WithSkipGetMe())
	if err != nil {
		return fmt.Errorf("init telegram bot: %w", err)
	}
	s.client = client
	return nil
}

// Send posts one message to the configured chat.
// Params: context and rendered message.
// Returns: transport error.
func (s *TelegramSender) Send(ctx context.Context, message Message) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.New("telegram client is not connected")
	}

	sent, err := client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: s.chatID,
		Text:   message.Title + "\n" + message.Body,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat ids to int64 and keeps others as string.
// Params: configured chat id value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// webhookSender posts one JSON document to a webhook URL.
// Params: endpoint URL, HTTP client, and payload encoder.
// Returns: shared transport base for Discord/Slack/generic backends.
type webhookSender struct {
	kind   string
	url    string
	client *http.Client
	encode func(message Message) (any, error)
}

// newWebhookSender builds one webhook transport.
// Params: transport key, endpoint URL, timeout, and payload encoder.
// Returns: ready sender.
func newWebhookSender(kind, url string, timeoutSec int, encode func(Message) (any, error)) *webhookSender {
	if timeoutSec <= 0 {
		timeoutSec = defaultSendTimeoutSec
	}
	return &webhookSender{
		kind:   kind,
		url:    url,
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		encode: encode,
	}
}

// Kind returns the transport key.
// Params: none.
// Returns: configured transport name.
func (s *webhookSender) Kind() string {
	return s.kind
}

// Connect is a no-op for stateless webhook transports.
// Params: context (unused).
// Returns: nil.
func (s *webhookSender) Connect(_ context.Context) error {
	return nil
}

// Send posts the encoded payload to the webhook URL.
// Params: context and rendered message.
// Returns: transport error; 4xx responses are marked permanent so the
// retry loop stops early.
func (s *webhookSender) Send(ctx context.Context, message Message) error {
	payload, err := s.encode(message)
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode %s payload: %w", s.kind, err))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode %s payload: %w", s.kind, err))
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("build %s request: %w", s.kind, err))
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("%s send: %w", s.kind, err)
	}
	defer response.Body.Close()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	statusErr := unexpectedHTTPStatusError(s.kind, response)
	if response.StatusCode >= 400 && response.StatusCode < 500 && response.StatusCode != http.StatusTooManyRequests {
		return permanent.Mark(statusErr)
	}
	return statusErr
}

// NewDiscordSender creates a Discord webhook transport.
// Params: webhook URL and request timeout.
// Returns: sender posting Discord embed payloads.
func NewDiscordSender(url string, timeoutSec int) Sender {
	return newWebhookSender("discord", url, timeoutSec, func(message Message) (any, error) {
		return struct {
			Embeds []struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			} `json:"embeds"`
		}{
			Embeds: []struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			}{{Title: message.Title, Description: message.Body}},
		}, nil
	})
}

// NewSlackSender creates a Slack webhook transport.
// Params: webhook URL and request timeout.
// Returns: sender posting Slack text payloads.
func NewSlackSender(url string, timeoutSec int) Sender {
	return newWebhookSender("slack", url, timeoutSec, func(message Message) (any, error) {
		return struct {
			Text string `json:"text"`
		}{
			Text: "*" + message.Title + "*\n" + message.Body,
		}, nil
	})
}

// NewHTTPSender creates a generic JSON webhook transport.
// Params: endpoint URL and request timeout.
// Returns: sender posting the full message including coordinates.
func NewHTTPSender(url string, timeoutSec int) Sender {
	return newWebhookSender("http", url, timeoutSec, func(message Message) (any, error) {
		return struct {
			Title string  `json:"title"`
			Body  string  `json:"body"`
			Lat   float64 `json:"lat"`
			Lng   float64 `json:"lng"`
		}{
			Title: message.Title,
			Body:  message.Body,
			Lat:   message.Lat,
			Lng:   message.Lng,
		}, nil
	})
}

// unexpectedHTTPStatusError formats one non-2xx HTTP response.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
