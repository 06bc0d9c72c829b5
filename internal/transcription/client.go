package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
)

// Task selects what the speech model produces
type Task string

const (
	// TaskTranscribe returns text in the spoken language
	TaskTranscribe Task = "transcribe"
	// TaskTranslate always returns English text
	TaskTranslate Task = "translate"
)

// Transcriber turns utterance audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, req *Request) (*Result, error)
}

// Request describes one utterance to transcribe
type Request struct {
	UtteranceID string
	Samples     []float32 // mono, normalized to [-1, 1]
	SampleRate  int
	Language    string // optional ISO-639-1 hint; empty lets the model detect
	Task        Task
	Prompt      string
}

// Result is the model output for one request
type Result struct {
	Text        string    `json:"text"`
	Language    string    `json:"language"` // ISO-639-1 when recognized
	Task        Task      `json:"task"`
	Duration    float64   `json:"duration"`
	Segments    []Segment `json:"segments,omitempty"`
	RequestID   string    `json:"request_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Segment represents a segment of transcribed text
type Segment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogProb   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// verboseResponse is the verbose_json body returned by Whisper-compatible servers
type verboseResponse struct {
	Task     string    `json:"task"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string // server base URL
	APIKey        string // optional bearer token
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Temperature   float64
	RetryBackoff  time.Duration // first retry delay, doubled per attempt
}

// HTTPError is a non-2xx response from the server
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Client provides HTTP client functionality for Whisper-compatible servers
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // bounds in-flight requests
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	if config.Model == "" {
		config.Model = "whisper-1"
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// Transcribe uploads the utterance and returns the model output
func (c *Client) Transcribe(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || len(req.Samples) == 0 {
		return nil, fmt.Errorf("cannot transcribe empty audio")
	}
	task := req.Task
	if task == "" {
		task = TaskTranscribe
	}
	if task != TaskTranscribe && task != TaskTranslate {
		return nil, fmt.Errorf("unknown task %q", task)
	}

	wav, err := audio.EncodeWAVFloat32(req.Samples, req.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode utterance: %w", err)
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	requestID := uuid.NewString()
	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordTranscriptionRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Warn("Retrying transcription",
				slog.String("request_id", requestID),
				slog.String("utterance_id", req.UtteranceID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoffTime),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				c.recordFailure(task, startTime)
				return nil, ctx.Err()
			}
		}

		result, err := c.doRequest(ctx, req, task, wav, requestID)
		if err == nil {
			elapsed := time.Since(startTime)
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(elapsed)
			c.metrics.RecordTranscription(string(task), elapsed.Seconds(), false)

			c.logger.Debug("Transcription completed",
				slog.String("request_id", requestID),
				slog.String("utterance_id", req.UtteranceID),
				slog.String("task", string(task)),
				slog.String("language", result.Language),
				slog.Int("text_length", len(result.Text)),
				slog.Duration("elapsed", elapsed),
			)
			return result, nil
		}

		lastErr = err

		if !c.isRetryableError(ctx, err) {
			break
		}
	}

	c.recordFailure(task, startTime)
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) recordFailure(task Task, startTime time.Time) {
	c.incrementFailedRequests()
	c.metrics.RecordTranscription(string(task), time.Since(startTime).Seconds(), true)
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, req *Request, task Task, wav []byte, requestID string) (*Result, error) {
	body, contentType, err := c.createMultipartRequest(req, task, wav)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointFor(task), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "live-audio-translator/1.0")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var parsed verboseResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	language := NormalizeLanguage(parsed.Language)
	if language == "" && req.Language != "" {
		language = NormalizeLanguage(req.Language)
	}

	return &Result{
		Text:        strings.TrimSpace(parsed.Text),
		Language:    language,
		Task:        task,
		Duration:    parsed.Duration,
		Segments:    parsed.Segments,
		RequestID:   requestID,
		ProcessedAt: time.Now(),
	}, nil
}

func (c *Client) endpointFor(task Task) string {
	if task == TaskTranslate {
		return c.config.Endpoint + "/v1/audio/translations"
	}
	return c.config.Endpoint + "/v1/audio/transcriptions"
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(req *Request, task Task, wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := "utterance.wav"
	if req.UtteranceID != "" {
		filename = req.UtteranceID + ".wav"
	}
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", c.config.Model},
		{"response_format", "verbose_json"},
		{"temperature", fmt.Sprintf("%.2f", c.config.Temperature)},
	}
	// the translations endpoint does not take a language
	if req.Language != "" && task == TaskTranscribe {
		fields = append(fields, [2]string{"language", req.Language})
	}
	if req.Prompt != "" {
		fields = append(fields, [2]string{"prompt", req.Prompt})
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether another attempt could succeed.
// Server errors, rate limiting and network failures are retried; nothing is
// retried once the caller's context is done.
func (c *Client) isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
