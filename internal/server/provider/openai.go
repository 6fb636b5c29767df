package provider

import (
	"bufio"
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

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, OpenRouter, local inference servers).
type OpenAIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient builds a client for the given base URL. The trailing
// /chat/completions segment may be included or omitted.
func NewOpenAIClient(baseURL string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAIClient{baseURL: baseURL, httpClient: httpClient}
}

var _ Provider = (*OpenAIClient)(nil)

// Chat performs a single non-streaming completion.
func (c *OpenAIClient) Chat(ctx context.Context, history []Message, opts Options) (string, error) {
	resp, err := c.call(ctx, history, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream performs a streaming completion, feeding each delta to onChunk.
func (c *OpenAIClient) Stream(ctx context.Context, history []Message, opts Options, onChunk func(chunk string) error) error {
	resp, err := c.call(ctx, history, opts, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(event.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		// a cancelled ctx surfaces here as a read error on the body
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *OpenAIClient) call(ctx context.Context, history []Message, opts Options, stream bool) (*http.Response, error) {
	endpointURL, err := c.endpointURL()
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]string, 0, len(history))
	for _, m := range history {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	payload := map[string]any{
		"model":    opts.ModelID,
		"messages": messages,
		"stream":   stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(opts.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("provider status %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *OpenAIClient) endpointURL() (string, error) {
	base := strings.TrimSpace(c.baseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}
