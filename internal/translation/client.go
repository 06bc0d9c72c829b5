package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trvslhlt/live-audio-translator/internal/metrics"
)

// ErrUnsupportedPair is returned for language pairs that are not configured
var ErrUnsupportedPair = errors.New("unsupported language pair")

// Translator translates text between two ISO-639-1 languages
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Pair is a supported translation direction
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (p Pair) String() string {
	return p.From + ":" + p.To
}

// Config contains translation client configuration
type Config struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Pairs        []Pair
}

// Client talks to a LibreTranslate server
type Client struct {
	config     Config
	httpClient *http.Client
	pairs      map[Pair]bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

type languageInfo struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

// StatusError is a non-2xx response from the server
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("translation server returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a translation client for the configured pairs
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if len(config.Pairs) == 0 {
		return nil, fmt.Errorf("at least one language pair is required")
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}

	pairs := make(map[Pair]bool, len(config.Pairs))
	for _, p := range config.Pairs {
		pairs[Pair{From: strings.ToLower(p.From), To: strings.ToLower(p.To)}] = true
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		pairs:      pairs,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Supports reports whether from->to is a configured pair
func (c *Client) Supports(from, to string) bool {
	return c.pairs[Pair{From: strings.ToLower(from), To: strings.ToLower(to)}]
}

// Translate translates text. Blank text returns "" without contacting the server.
func (c *Client) Translate(ctx context.Context, text, from, to string) (string, error) {
	if !c.Supports(from, to) {
		return "", fmt.Errorf("%w: %s:%s", ErrUnsupportedPair, from, to)
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: strings.ToLower(from),
		Target: strings.ToLower(to),
		Format: "text",
		APIKey: c.config.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode translation request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.config.RetryBackoff << (attempt - 1)):
			case <-ctx.Done():
				c.metrics.RecordTranslation(time.Since(start).Seconds(), true)
				return "", ctx.Err()
			}
		}

		translated, err := c.doTranslate(ctx, body)
		if err == nil {
			c.metrics.RecordTranslation(time.Since(start).Seconds(), false)
			return translated, nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			break
		}
		c.logger.Warn("Translation attempt failed",
			slog.String("pair", from+":"+to),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	c.metrics.RecordTranslation(time.Since(start).Seconds(), true)
	return "", fmt.Errorf("translation %s:%s failed: %w", from, to, lastErr)
}

func (c *Client) doTranslate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	respBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var parsed translateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse translation response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("translation server error: %s", parsed.Error)
	}
	return strings.TrimSpace(parsed.TranslatedText), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		var parsed translateResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	return respBody, nil
}

// VerifyPairs checks that the server has models for every configured pair
func (c *Client) VerifyPairs(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/languages", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("failed to list server languages: %w", err)
	}

	var languages []languageInfo
	if err := json.Unmarshal(body, &languages); err != nil {
		return fmt.Errorf("failed to parse languages response: %w", err)
	}

	available := make(map[Pair]bool)
	for _, lang := range languages {
		for _, target := range lang.Targets {
			available[Pair{From: lang.Code, To: target}] = true
		}
	}

	var missing []string
	for p := range c.pairs {
		if !available[p] {
			missing = append(missing, p.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: server has no model for %s", ErrUnsupportedPair, strings.Join(missing, ", "))
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
