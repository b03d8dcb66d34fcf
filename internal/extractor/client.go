package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"poextract/internal"
	"poextract/internal/config"
)

const apiVersion = "2023-06-01"

// Client calls the Anthropic Messages API with the purchase-order prompt.
type Client struct {
	cfg        config.Config
	endpoint   string
	httpClient *http.Client
	limiter    *RateLimiter
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *blockSource `json:"source,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.AnthropicBaseURL, "/") + "/messages",
		httpClient: &http.Client{Timeout: time.Duration(cfg.ExtractTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.ExtractRateLimitRPS),
	}
}

// Extract sends one document to the model and decodes the answer.
func (c *Client) Extract(ctx context.Context, content []byte, mediaType string) (internal.Extraction, error) {
	if err := c.cfg.Require("ANTHROPIC_API_KEY", c.cfg.AnthropicAPIKey); err != nil {
		return internal.Extraction{}, &Error{Err: err}
	}

	blocks, err := buildContentBlocks(content, mediaType)
	if err != nil {
		return internal.Extraction{}, &Error{Err: err}
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.AnthropicModel,
		MaxTokens: c.cfg.AnthropicMaxTokens,
		Messages:  []message{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return internal.Extraction{}, &Error{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return internal.Extraction{}, wrap(err)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return internal.Extraction{}, &Error{Err: fmt.Errorf("unmarshaling response: %w", err)}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		text.WriteString(block.Text)
	}
	if resp.StopReason == "max_tokens" && !c.cfg.ExtractRepairJSON {
		return internal.Extraction{}, &Error{Err: errors.New("output truncated (stop_reason: max_tokens)")}
	}

	return Decode(text.String(), c.cfg.ExtractRepairJSON)
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	attempts := c.cfg.ExtractMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.cfg.AnthropicAPIKey)
		req.Header.Set("anthropic-version", apiVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("calling anthropic API: %w", err)
			if serr := sleepCtx(ctx, backoff(attempt, 0)); serr != nil {
				return nil, serr
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("reading response: %w", readErr)
			if serr := sleepCtx(ctx, backoff(attempt, 0)); serr != nil {
				return nil, serr
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		apiErr := &Error{StatusCode: resp.StatusCode, Err: errors.New(apiErrorMessage(respBody))}
		if !isRetryableStatus(resp.StatusCode) || attempt == attempts {
			return nil, apiErr
		}
		lastErr = apiErr
		wait := backoff(attempt, parseRetryAfter(resp.Header.Get("Retry-After")))
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("anthropic request failed")
	}
	return nil, lastErr
}

func buildContentBlocks(content []byte, mediaType string) ([]contentBlock, error) {
	encoded := base64.StdEncoding.EncodeToString(content)

	var doc contentBlock
	switch mediaType {
	case MediaPDF:
		doc = contentBlock{Type: "document", Source: &blockSource{Type: "base64", MediaType: MediaPDF, Data: encoded}}
	case MediaPNG, MediaJPEG, MediaGIF, MediaWEBP:
		doc = contentBlock{Type: "image", Source: &blockSource{Type: "base64", MediaType: mediaType, Data: encoded}}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}

	return []contentBlock{doc, {Type: "text", Text: Prompt}}, nil
}

func apiErrorMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return truncate(strings.TrimSpace(string(body)), 300)
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

func backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}

// parseRetryAfter reads a delay in seconds. HTTP dates are ignored.
func parseRetryAfter(val string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
