package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// Compile-time assertion that OpenAI satisfies the Describer interface.
var _ Describer = (*OpenAI)(nil)

// defaultPrompt instructs the model to produce alt text usable verbatim in
// an HTML alt attribute.
const defaultPrompt = "Describe this image in one or two short sentences suitable " +
	"as alt text for a screen reader. Do not start with phrases like " +
	"\"an image of\" or \"a picture of\"."

// OpenAI implements [Describer] using an OpenAI multimodal chat model.
type OpenAI struct {
	client oai.Client
	model  string
	prompt string
}

// openaiConfig holds optional configuration for the describer.
type openaiConfig struct {
	baseURL string
	prompt  string
	timeout time.Duration
}

// OpenAIOption is a functional option for [OpenAI].
type OpenAIOption func(*openaiConfig)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) {
		c.baseURL = url
	}
}

// WithPrompt replaces the default alt-text instruction prompt.
func WithPrompt(prompt string) OpenAIOption {
	return func(c *openaiConfig) {
		c.prompt = prompt
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) {
		c.timeout = d
	}
}

// NewOpenAI constructs a new OpenAI-backed describer.
func NewOpenAI(apiKey, model string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vision: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("vision: model must not be empty")
	}

	cfg := &openaiConfig{prompt: defaultPrompt}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAI{
		client: oai.NewClient(reqOpts...),
		model:  model,
		prompt: cfg.prompt,
	}, nil
}

// Describe implements [Describer]. The image travels inline as a base64 data
// URL so no intermediate storage is needed.
func (d *OpenAI) Describe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("vision: image data is empty")
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("vision: unsupported mime type %q", mimeType)
	}

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := d.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(d.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart(d.prompt),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		MaxCompletionTokens: param.NewOpt(int64(200)),
	})
	if err != nil {
		return "", fmt.Errorf("vision: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision: empty choices in response")
	}

	alt := strings.TrimSpace(resp.Choices[0].Message.Content)
	if alt == "" {
		return "", fmt.Errorf("vision: model returned no description")
	}
	return alt, nil
}
