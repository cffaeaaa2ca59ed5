package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GeminiOptions controls how the Gemini image client is configured.
type GeminiOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// GeminiClient generates images through the Gemini generateContent endpoint.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewGeminiClient constructs a client with sane defaults. Callers may provide
// a nil HTTP client; one with a sensible timeout will be created.
func NewGeminiClient(opts GeminiOptions) *GeminiClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &GeminiClient{
		httpClient: client,
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
	}
}

type geminiRequest struct {
	Contents []struct {
		Role  string       `json:"role,omitempty"`
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string     `json:"responseModalities,omitempty"`
		ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
	} `json:"generationConfig"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiPart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mimeType,omitempty"`
		Data     string `json:"data,omitempty"`
	} `json:"inlineData,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Generate makes exactly one generation attempt for the prompt and returns
// the first inline image from the response. Failures are classified for the
// caller's retry policy.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*Image, error) {
	if c.apiKey == "" {
		return nil, &GenerationError{Message: "gemini: API key is missing"}
	}

	var payload geminiRequest
	payload.Contents = append(payload.Contents, struct {
		Role  string       `json:"role,omitempty"`
		Parts []geminiPart `json:"parts"`
	}{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}})
	payload.GenerationConfig.ResponseModalities = []string{"IMAGE"}
	if ratio := strings.TrimSpace(req.AspectRatio); ratio != "" {
		payload.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: ratio}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GenerationError{Message: fmt.Sprintf("gemini: encode request: %v", err), Err: err}
	}

	model := req.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &GenerationError{Message: fmt.Sprintf("gemini: build request: %v", err), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GenerationError{Message: fmt.Sprintf("gemini: request failed: %v", err), Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &GenerationError{
				Message:    fmt.Sprintf("gemini: http %d", resp.StatusCode),
				StatusCode: resp.StatusCode,
				Retryable:  retryableStatus(resp.StatusCode),
			}
		}
		return nil, &GenerationError{Message: fmt.Sprintf("gemini: decode response: %v", err), Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := out.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("gemini: http %d", resp.StatusCode)
		} else {
			msg = "gemini: " + msg
		}
		return nil, &GenerationError{
			Message:    msg,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}

	for _, candidate := range out.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			format := part.InlineData.MimeType
			if format == "" {
				format = "image/png"
			}
			return &Image{Data: data, Format: format}, nil
		}
	}
	return nil, &GenerationError{Message: "gemini: no image in response"}
}

var _ Generator = (*GeminiClient)(nil)
