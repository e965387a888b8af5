// Package whatsapp is a thin JSON client for the outbound WhatsApp gateway.
// It knows the wire format only; retry and fallback policy live in the
// dispatcher service.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noah-isme/campus-portal-api/pkg/config"
)

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("whatsapp gateway status %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying the same call may succeed.
func (e *GatewayError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

type mediaPayload struct {
	Link     string `json:"link,omitempty"`
	Base64   string `json:"base64,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

type messageRequest struct {
	Instance string        `json:"instance,omitempty"`
	To       string        `json:"to"`
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	Caption  string        `json:"caption,omitempty"`
	Document *mediaPayload `json:"document,omitempty"`
	Image    *mediaPayload `json:"image,omitempty"`
}

type messageResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Client talks to the gateway REST API.
type Client struct {
	baseURL  string
	token    string
	instance string
	http     *http.Client
}

// NewClient constructs a gateway client.
func NewClient(cfg config.WhatsAppConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		instance: cfg.Instance,
		http:     &http.Client{Timeout: timeout},
	}
}

// SendText sends a plain text message and returns the gateway message id.
func (c *Client) SendText(ctx context.Context, phone, text string) (string, error) {
	return c.send(ctx, messageRequest{To: phone, Type: "text", Text: text})
}

// SendDocumentBytes uploads the document inline.
func (c *Client) SendDocumentBytes(ctx context.Context, phone string, data []byte, filename, caption string) (string, error) {
	return c.send(ctx, messageRequest{
		To:      phone,
		Type:    "document",
		Caption: caption,
		Document: &mediaPayload{
			Base64:   base64.StdEncoding.EncodeToString(data),
			Filename: filename,
			MimeType: "application/pdf",
		},
	})
}

// SendDocumentURL asks the gateway to fetch the document from link.
func (c *Client) SendDocumentURL(ctx context.Context, phone, link, filename, caption string) (string, error) {
	return c.send(ctx, messageRequest{
		To:       phone,
		Type:     "document",
		Caption:  caption,
		Document: &mediaPayload{Link: link, Filename: filename, MimeType: "application/pdf"},
	})
}

// SendImageURL asks the gateway to fetch an image from link.
func (c *Client) SendImageURL(ctx context.Context, phone, link, caption string) (string, error) {
	return c.send(ctx, messageRequest{To: phone, Type: "image", Caption: caption, Image: &mediaPayload{Link: link}})
}

// IsRegistered reports whether phone has a WhatsApp account.
func (c *Client) IsRegistered(ctx context.Context, phone string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/contacts/"+url.PathEscape(phone)+"/exists", nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *Client) send(ctx context.Context, msg messageRequest) (string, error) {
	msg.Instance = c.instance
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode whatsapp message: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return "", err
	}
	var out messageResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &GatewayError{Status: http.StatusOK, Message: out.Error}
	}
	return out.ID, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("whatsapp gateway base URL not configured")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build whatsapp request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call whatsapp gateway: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read whatsapp response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var parsed messageResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return &GatewayError{Status: resp.StatusCode, Message: msg}
	}
	if dest == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode whatsapp response: %w", err)
	}
	return nil
}
