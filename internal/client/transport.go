package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"talkroom/internal/models"
	"talkroom/internal/provider"
)

// Transport is the room protocol as the engine needs it, bound to a single
// channel.
type Transport interface {
	List(ctx context.Context, since int64, dir provider.Direction, count int) ([]models.Message, error)
	Create(ctx context.Context, sub models.Submission) (models.Message, error)
	Update(ctx context.Context, id int64, content string) (models.Message, error)
	Delete(ctx context.Context, id int64) error
}

var ErrNetwork = errors.New("network failure")

// APIError is a response the server answered with a non 2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

type envelope struct {
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type HTTPTransport struct {
	baseURL string
	channel string
	client  *http.Client
}

// NewHTTPTransport talks to the server at baseURL. A nil client gets a
// default one with a cookie jar, which carries the sender token.
func NewHTTPTransport(baseURL string, channel string, client *http.Client) (*HTTPTransport, error) {
	if client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}

	return &HTTPTransport{baseURL: baseURL, channel: channel, client: client}, nil
}

func (t *HTTPTransport) roomPath(suffix string) string {
	return "/api/rooms/" + url.PathEscape(t.channel) + suffix
}

func (t *HTTPTransport) do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("%w: malformed response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// Guest asks the server for a sender identity, stored in the cookie jar.
func (t *HTTPTransport) Guest(ctx context.Context, name string, icon string) (models.Author, error) {
	var sender models.Author
	err := t.do(ctx, http.MethodPost, "/api/auth/guest", nil, map[string]string{"name": name, "icon": icon}, &sender)
	return sender, err
}

func (t *HTTPTransport) Config(ctx context.Context) (models.RoomConfig, error) {
	var cfg models.RoomConfig
	err := t.do(ctx, http.MethodGet, t.roomPath("/config"), nil, nil, &cfg)
	return cfg, err
}

func (t *HTTPTransport) List(ctx context.Context, since int64, dir provider.Direction, count int) ([]models.Message, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(since, 10))
	query.Set("dir", string(dir))
	if count > 0 {
		query.Set("count", strconv.Itoa(count))
	}

	if dir == provider.Point {
		var msg *models.Message
		if err := t.do(ctx, http.MethodGet, t.roomPath("/messages"), query, nil, &msg); err != nil || msg == nil {
			return nil, err
		}
		return []models.Message{*msg}, nil
	}

	messages := []models.Message{}
	err := t.do(ctx, http.MethodGet, t.roomPath("/messages"), query, nil, &messages)
	return messages, err
}

func (t *HTTPTransport) Create(ctx context.Context, sub models.Submission) (models.Message, error) {
	var msg models.Message
	err := t.do(ctx, http.MethodPost, t.roomPath("/messages"), nil, sub, &msg)
	return msg, err
}

func (t *HTTPTransport) Update(ctx context.Context, id int64, content string) (models.Message, error) {
	var msg models.Message
	path := t.roomPath("/messages/" + strconv.FormatInt(id, 10))
	err := t.do(ctx, http.MethodPut, path, nil, models.Edit{ID: id, Content: content}, &msg)
	return msg, err
}

func (t *HTTPTransport) Delete(ctx context.Context, id int64) error {
	path := t.roomPath("/messages/" + strconv.FormatInt(id, 10))
	return t.do(ctx, http.MethodDelete, path, nil, nil, nil)
}
