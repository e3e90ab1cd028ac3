package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"thermowatch/internal/models"
)

// Client errors
var (
	ErrNoData           = errors.New("channel has no data")
	ErrUnexpectedStatus = errors.New("unexpected upstream status")
	ErrMalformedFeed    = errors.New("malformed feed entry")
)

// Client reads a ThingSpeak-compatible channel where field1 carries
// temperature and field2 humidity.
type Client struct {
	baseURL   string
	channelID string
	apiKey    string
	client    *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithReadAPIKey sets the key for private channels.
func WithReadAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient constructs a channel client.
func NewClient(baseURL, channelID string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("telemetry client: empty base url")
	}
	if channelID == "" {
		return nil, errors.New("telemetry client: empty channel id")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		channelID: channelID,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SourceID identifies readings from this channel.
func (c *Client) SourceID() string {
	return "thingspeak:" + c.channelID
}

// feedEntry is one row of a channel feed.
type feedEntry struct {
	CreatedAt string    `json:"created_at"`
	EntryID   int64     `json:"entry_id"`
	Field1    feedValue `json:"field1"`
	Field2    feedValue `json:"field2"`
}

// feedValue accepts a JSON string, number or null.
type feedValue struct {
	raw string
}

func (v *feedValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		v.raw = ""
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &v.raw)
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("%w: field %s", ErrMalformedFeed, b)
	}
	v.raw = string(b)
	return nil
}

// Latest fetches the most recent feed entry.
func (c *Client) Latest(ctx context.Context) (models.SensorReading, error) {
	body, err := c.get(ctx, fmt.Sprintf("/channels/%s/feeds/last.json", url.PathEscape(c.channelID)), nil)
	if err != nil {
		return models.SensorReading{}, err
	}

	// an empty channel answers with a bare -1
	if trimmed := bytes.TrimSpace(body); string(trimmed) == "-1" || string(trimmed) == "{}" {
		return models.SensorReading{}, ErrNoData
	}

	var entry feedEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	return c.toReading(entry)
}

type feedPage struct {
	Feeds []feedEntry `json:"feeds"`
}

// History fetches up to results most recent entries, oldest first.
// Entries that cannot be parsed are skipped.
func (c *Client) History(ctx context.Context, results int) ([]models.SensorReading, error) {
	if results <= 0 {
		results = 100
	}
	if results > 8000 {
		results = 8000
	}
	query := url.Values{}
	query.Set("results", strconv.Itoa(results))
	body, err := c.get(ctx, fmt.Sprintf("/channels/%s/feeds.json", url.PathEscape(c.channelID)), query)
	if err != nil {
		return nil, err
	}

	var page feedPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}

	readings := make([]models.SensorReading, 0, len(page.Feeds))
	for _, e := range page.Feeds {
		r, err := c.toReading(e)
		if err != nil {
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// ChannelStatus checks that the channel status endpoint answers.
func (c *Client) ChannelStatus(ctx context.Context) error {
	_, err := c.get(ctx, fmt.Sprintf("/channels/%s/status.json", url.PathEscape(c.channelID)), nil)
	return err
}

func (c *Client) toReading(e feedEntry) (models.SensorReading, error) {
	observedAt, err := models.ParseTimestamp(e.CreatedAt)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: created_at %q", ErrMalformedFeed, e.CreatedAt)
	}
	temp, err := models.ParseValue(e.Field1.raw)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: field1: %v", ErrMalformedFeed, err)
	}
	hum, err := models.ParseValue(e.Field2.raw)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: field2: %v", ErrMalformedFeed, err)
	}

	r := models.SensorReading{
		SourceID:    c.SourceID(),
		ObservedAt:  observedAt,
		Temperature: temp,
		Humidity:    hum,
		EntryID:     e.EntryID,
	}
	r.Normalize()
	return r, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return body, nil
}
