package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	BaseURL    string
	APIKey     string
	SuccessURL string
	CancelURL  string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type createSessionRequest struct {
	ClientReference string     `json:"client_reference"`
	SuccessURL      string     `json:"success_url"`
	CancelURL       string     `json:"cancel_url"`
	LineItems       []LineItem `json:"line_items"`
}

// CreateSession opens a payment session for the line items. clientRef is the
// order id; the processor echoes it back on the landing URLs.
func (c *Client) CreateSession(ctx context.Context, clientRef string, items []LineItem) (*Session, error) {
	body := createSessionRequest{
		ClientReference: clientRef,
		SuccessURL:      c.cfg.SuccessURL + "?session_id={SESSION_ID}",
		CancelURL:       c.cfg.CancelURL + "?order_id=" + url.QueryEscape(clientRef),
		LineItems:       make([]LineItem, 0, len(items)),
	}
	for _, it := range items {
		it.Description = TruncateDescription(it.Description)
		if it.Quantity == 0 {
			it.Quantity = 1
		}
		body.LineItems = append(body.LineItems, it)
	}

	var sess Session
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("gateway: empty session id")
	}
	return &sess, nil
}

func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var st SessionStatus
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &st); err != nil {
		return nil, err
	}
	switch st.Status {
	case StatusPaid, StatusUnpaid, StatusExpired:
		return &st, nil
	default:
		return nil, fmt.Errorf("gateway: unknown payment status %q", st.Status)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
