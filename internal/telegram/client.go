// Package telegram is a small Telegram Bot API client covering the calls the
// lead pipeline needs: identity, long polling, sending and callback answers.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	defaultTimeout = 60 * time.Second
)

// APIError is a non-ok Bot API reply.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram: %d %s (retry after %s)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

// FloodWait returns the server-mandated wait when err is a 429.
func FloodWait(err error) (time.Duration, bool) {
	var ae *APIError
	if errors.As(err, &ae) && (ae.Code == http.StatusTooManyRequests || ae.RetryAfter > 0) {
		return ae.RetryAfter, true
	}
	return 0, false
}

// IsAuth reports a rejected or unknown bot token.
func IsAuth(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Code {
	case http.StatusUnauthorized, http.StatusNotFound:
		return true
	case http.StatusForbidden:
		return !IsBlocked(err)
	}
	return false
}

// IsBlocked reports that the recipient blocked the bot or deleted their account.
func IsBlocked(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) || ae.Code != http.StatusForbidden {
		return false
	}
	d := strings.ToLower(ae.Description)
	return strings.Contains(d, "blocked") || strings.Contains(d, "deactivated") || strings.Contains(d, "chat not found")
}

type Options struct {
	BaseURL string
	// ProxyURL is an optional socks5:// or http(s):// proxy.
	ProxyURL string
	Timeout  time.Duration
}

// Client is a Bot API client bound to one token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// New returns a client for token. The HTTP timeout must exceed the long-poll
// timeout passed to GetUpdates.
func New(token string, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		default:
			d, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("building proxy dialer: %w", err)
			}
			transport.Proxy = nil
			transport.DialContext = dialContext(d)
		}
	}

	return &Client{
		token:      token,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
	}, nil
}

func dialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

func (c *Client) url(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// call posts params as JSON and decodes the result into out when non-nil.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(method), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.redact(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Code: resp.StatusCode, Description: resp.Status}
		}
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !env.OK {
		ae := &APIError{Code: env.ErrorCode, Description: env.Description}
		if ae.Code == 0 {
			ae.Code = resp.StatusCode
		}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			ae.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// redact strips the token from transport errors, which embed the request URL.
func (c *Client) redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && c.token != "" {
		ue.URL = strings.ReplaceAll(ue.URL, c.token, "<token>")
	}
	return err
}

// GetMe returns the bot's own identity. It doubles as the connection ping.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var u User
	err := c.call(ctx, "getMe", struct{}{}, &u)
	return u, err
}

// Ping calls getMe and discards the result.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetMe(ctx)
	return err
}

// GetUpdates long-polls for updates after offset, waiting up to timeout seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := map[string]any{
		"timeout":         timeout,
		"allowed_updates": []string{"message", "channel_post", "callback_query"},
	}
	if offset != 0 {
		params["offset"] = offset
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) SendMessage(ctx context.Context, opts SendOptions) (Message, error) {
	params := map[string]any{
		"chat_id": opts.ChatID,
		"text":    opts.Text,
	}
	if opts.ParseMode != "" {
		params["parse_mode"] = opts.ParseMode
	}
	if opts.Keyboard != nil {
		params["reply_markup"] = opts.Keyboard
	}
	if opts.DisableWebPagePreview {
		params["link_preview_options"] = map[string]bool{"is_disabled": true}
	}
	var m Message
	err := c.call(ctx, "sendMessage", params, &m)
	return m, err
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	params := map[string]any{"callback_query_id": id}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// EditReplyMarkup replaces (or with nil, removes) a message's inline keyboard.
func (c *Client) EditReplyMarkup(ctx context.Context, chatID, messageID int64, kb *InlineKeyboardMarkup) error {
	params := map[string]any{"chat_id": chatID, "message_id": messageID}
	if kb != nil {
		params["reply_markup"] = kb
	}
	return c.call(ctx, "editMessageReplyMarkup", params, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID}, nil)
}
