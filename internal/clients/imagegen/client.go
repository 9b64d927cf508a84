// Package imagegen calls the DashScope text-to-image endpoint for the art
// wall persona and downloads the produced image.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/inksight/inksight-backend/internal/logger"
)

type Client interface {
	// Generate returns the hosted image URL and its PNG bytes.
	Generate(ctx context.Context, prompt, negativePrompt string) (string, []byte, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(log *logger.Logger, model string) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY"))
	if apiKey == "" || strings.HasPrefix(apiKey, "sk-your-") {
		return nil, fmt.Errorf("missing or placeholder API key: set DASHSCOPE_API_KEY")
	}
	if model == "" {
		model = "qwen-image-max"
	}
	return &client{
		log:        log.With("service", "ImageGenClient", "model", model),
		baseURL:    "https://dashscope.aliyuncs.com/api/v1",
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

func (c *client) Generate(ctx context.Context, prompt, negativePrompt string) (string, []byte, error) {
	reqBody := generationRequest{
		Model: c.model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []map[string]any{{"text": prompt}},
			}},
		},
		Parameters: map[string]any{
			"result_format":   "message",
			"watermark":       false,
			"prompt_extend":   true,
			"negative_prompt": negativePrompt,
			"size":            "512*512",
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/services/aigc/multimodal-generation/generation", &buf)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("image generation request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("image generation status %d: %s", resp.StatusCode, raw)
	}

	var payload struct {
		Output struct {
			Choices []struct {
				Message struct {
					Content []map[string]any `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", nil, fmt.Errorf("decode generation response: %w", err)
	}
	imageURL := ""
	if len(payload.Output.Choices) > 0 {
		for _, part := range payload.Output.Choices[0].Message.Content {
			if u, ok := part["image"].(string); ok && u != "" {
				imageURL = u
				break
			}
		}
	}
	if imageURL == "" {
		return "", nil, fmt.Errorf("generation response has no image")
	}
	c.log.Info("Image generated", "url", truncate(imageURL, 60))

	pngBytes, err := c.download(ctx, imageURL)
	if err != nil {
		return imageURL, nil, err
	}
	return imageURL, pngBytes, nil
}

// download fetches the hosted image and normalizes it to PNG.
func (c *client) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
