// Package expo is a client for the Expo push notification HTTP API.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hotelna-core/internal/domain"
)

const (
	defaultTimeout = 15 * time.Second

	// Provider limits per request.
	maxSendBatch    = 100
	maxReceiptBatch = 300
)

// ErrDeviceNotRegistered is the ticket/receipt error for a permanently invalid token.
const ErrDeviceNotRegistered = "DeviceNotRegistered"

var uuidToken = regexp.MustCompile(`(?i)^[a-z\d]{8}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{12}$`)

// ValidToken reports whether tok has the shape of an Expo push token.
func ValidToken(tok string) bool {
	if (strings.HasPrefix(tok, "ExponentPushToken[") || strings.HasPrefix(tok, "ExpoPushToken[")) &&
		strings.HasSuffix(tok, "]") {
		return true
	}
	return uuidToken.MatchString(tok)
}

type Message struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Sound string         `json:"sound,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

type Details struct {
	Error string `json:"error,omitempty"`
}

// Ticket is the provider's immediate answer for one message. Tickets are
// returned in the same order as the messages sent.
type Ticket struct {
	Status  string   `json:"status"`
	ID      string   `json:"id,omitempty"`
	Message string   `json:"message,omitempty"`
	Details *Details `json:"details,omitempty"`
}

func (t Ticket) Err() string {
	if t.Details == nil {
		return ""
	}
	return t.Details.Error
}

type Receipt struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Details *Details `json:"details,omitempty"`
}

func (r Receipt) Err() string {
	if r.Details == nil {
		return ""
	}
	return r.Details.Error
}

type Client struct {
	AccessToken string
	BaseURL     string
	HTTPClient  *http.Client
}

func NewClient(accessToken, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://exp.host/--/api/v2/push"
	}
	return &Client{
		AccessToken: accessToken,
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		HTTPClient:  &http.Client{Timeout: defaultTimeout},
	}
}

// Send delivers msgs in chunks of at most 100 and returns one ticket per message.
func (c *Client) Send(ctx context.Context, msgs []Message) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(msgs))
	for start := 0; start < len(msgs); start += maxSendBatch {
		chunk := msgs[start:min(start+maxSendBatch, len(msgs))]
		var out struct {
			Data []Ticket `json:"data"`
		}
		if err := c.post(ctx, "/send", chunk, &out); err != nil {
			return tickets, err
		}
		if len(out.Data) != len(chunk) {
			return tickets, fmt.Errorf("expo: got %d tickets for %d messages: %w", len(out.Data), len(chunk), domain.ErrProvider)
		}
		tickets = append(tickets, out.Data...)
	}
	return tickets, nil
}

// Receipts fetches delivery receipts by ticket id in chunks of at most 300.
// Receipts not yet available are absent from the result.
func (c *Client) Receipts(ctx context.Context, ids []string) (map[string]Receipt, error) {
	receipts := make(map[string]Receipt, len(ids))
	for start := 0; start < len(ids); start += maxReceiptBatch {
		chunk := ids[start:min(start+maxReceiptBatch, len(ids))]
		var out struct {
			Data map[string]Receipt `json:"data"`
		}
		if err := c.post(ctx, "/getReceipts", map[string][]string{"ids": chunk}, &out); err != nil {
			return receipts, err
		}
		for id, r := range out.Data {
			receipts[id] = r
		}
	}
	return receipts, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("expo %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("expo %s: status=%d body=%s: %w", path, resp.StatusCode, string(b), domain.ErrProvider)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("expo %s: decode: %w", path, err)
	}
	return nil
}
