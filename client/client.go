// Package client provides a Go client for the pypeman admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a pypeman admin API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client for the admin server at baseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health is the engine health report.
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Channels  int    `json:"channels"`
	Running   int    `json:"running"`
	Timestamp string `json:"timestamp"`
}

// ChannelInfo describes one channel of the running engine.
type ChannelInfo struct {
	Name        string   `json:"name"`
	State       string   `json:"state"`
	Processed   int64    `json:"processed"`
	HasStore    bool     `json:"has_store"`
	Parent      string   `json:"parent,omitempty"`
	Subchannels []string `json:"subchannels,omitempty"`
}

// Message is the wire view of a stored message.
type Message struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Record is one message store record.
type Record struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
}

// SearchPage is one page of store records.
type SearchPage struct {
	Channel string   `json:"channel"`
	Results []Record `json:"results"`
	Total   int64    `json:"total"`
}

// SearchOptions narrow a message search. Zero values mean "no filter".
type SearchOptions struct {
	Start   time.Time
	End     time.Time
	Status  string
	Pattern string
	StartID string
	Limit   int
}

type apiError struct {
	Message string `json:"error"`
	Code    int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("admin api: %s (status %d)", e.Message, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Code: resp.StatusCode, Message: resp.Status}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetHealth returns the engine health report.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListChannels returns every channel known to the engine.
func (c *Client) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	var out []ChannelInfo
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetChannel returns one channel by name.
func (c *Client) GetChannel(ctx context.Context, name string) (*ChannelInfo, error) {
	var out ChannelInfo
	if err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartChannel starts the named channel.
func (c *Client) StartChannel(ctx context.Context, name string) (*ChannelInfo, error) {
	var out ChannelInfo
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(name)+"/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopChannel stops the named channel.
func (c *Client) StopChannel(ctx context.Context, name string) (*ChannelInfo, error) {
	var out ChannelInfo
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(name)+"/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchMessages queries a channel's message store.
func (c *Client) SearchMessages(ctx context.Context, channel string, opts SearchOptions) (*SearchPage, error) {
	q := url.Values{}
	if !opts.Start.IsZero() {
		q.Set("start", opts.Start.Format(time.RFC3339))
	}
	if !opts.End.IsZero() {
		q.Set("end", opts.End.Format(time.RFC3339))
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Pattern != "" {
		q.Set("pattern", opts.Pattern)
	}
	if opts.StartID != "" {
		q.Set("start_id", opts.StartID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/channels/" + url.PathEscape(channel) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out SearchPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMessage returns one store record.
func (c *Client) GetMessage(ctx context.Context, channel, id string) (*Record, error) {
	var out Record
	path := "/channels/" + url.PathEscape(channel) + "/messages/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReplayMessage re-injects a stored message and returns the replay result.
func (c *Client) ReplayMessage(ctx context.Context, channel, id string) (*Message, error) {
	var out Message
	path := "/channels/" + url.PathEscape(channel) + "/messages/" + url.PathEscape(id) + "/replay"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
