// Package genai generates text with the Gemini API through Google's Go SDK.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gemini "google.golang.org/genai"
)

const (
	DefaultModel = "gemini-2.5-flash"

	apiVersion = "v1beta"
)

var ErrNoCandidates = errors.New("genai: response has no text candidates")

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string
	Timeout time.Duration
}

// Client makes one generateContent call per Generate; no retries.
type Client struct {
	model string
	sdk   *gemini.Client
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("genai: api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	// NewClient only checks the config; no request is made here.
	sdk, err := gemini.NewClient(context.Background(), &gemini.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    gemini.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: gemini.HTTPOptions{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genai: creating client: %w", err)
	}
	return &Client{model: cfg.Model, sdk: sdk}, nil
}

func (c *Client) Model() string { return c.model }

// ProviderError is returned when the API answers with an error status.
type ProviderError struct {
	StatusCode int
	Status     string // e.g. "INVALID_ARGUMENT", "RESOURCE_EXHAUSTED"
	Message    string

	err error
}

func (e *ProviderError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("genai: HTTP %d: %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("genai: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.err }

func (e *ProviderError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// Generate sends prompt as a single user turn and returns the first
// candidate's text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, gemini.Text(prompt), nil)
	if err != nil {
		return "", providerError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return "", fmt.Errorf("%w (blocked: %s)", ErrNoCandidates, fb.BlockReason)
		}
		return "", ErrNoCandidates
	}
	var b strings.Builder
	if content := resp.Candidates[0].Content; content != nil {
		for _, p := range content.Parts {
			if p == nil || p.Thought {
				continue
			}
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrNoCandidates
	}
	return b.String(), nil
}

func providerError(err error) error {
	var apiErr gemini.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    strings.TrimSpace(apiErr.Message),
			err:        err,
		}
	}
	var apiPtr *gemini.APIError
	if errors.As(err, &apiPtr) && apiPtr != nil {
		return &ProviderError{
			StatusCode: apiPtr.Code,
			Status:     apiPtr.Status,
			Message:    strings.TrimSpace(apiPtr.Message),
			err:        err,
		}
	}
	return fmt.Errorf("genai: sending request: %w", err)
}
