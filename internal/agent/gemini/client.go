// Package gemini adapts the Google Gen AI SDK to the agent.Agent port.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/importscout/internal/agent"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Config controls the model and the tools enabled for each request.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	SearchTool  bool
	MapsTool    bool
}

type generator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Client calls Gemini with search grounding enabled.
type Client struct {
	models generator
	cfg    Config
	logger *zap.Logger
}

// New builds a Gemini API client using the configured key.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithGenerator(client.Models, cfg, logger), nil
}

func newWithGenerator(models generator, cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{models: models, cfg: cfg, logger: logger}
}

// Generate sends the prompt and returns the concatenated text parts of the
// first candidate together with its web grounding chunks.
func (c *Client) Generate(ctx context.Context, req agent.Request) (agent.Response, error) {
	resp, err := c.models.GenerateContent(
		ctx,
		c.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)},
		c.generateConfig(),
	)
	if err != nil {
		return agent.Response{}, fmt.Errorf("gemini generate content: %w", err)
	}
	out := agent.Response{}
	if resp == nil || len(resp.Candidates) == 0 {
		c.logger.Warn("gemini returned no candidates", zap.String("model", c.cfg.Model))
		return out, nil
	}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text.WriteString(part.Text)
		}
		out.Text = text.String()
	}
	if gm := candidate.GroundingMetadata; gm != nil {
		out.Grounding = make([]agent.GroundingChunk, 0, len(gm.GroundingChunks))
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil {
				continue
			}
			gc := agent.GroundingChunk{}
			if chunk.Web != nil {
				gc.Web = &agent.WebReference{Title: chunk.Web.Title, URI: chunk.Web.URI}
			}
			out.Grounding = append(out.Grounding, gc)
		}
	}
	c.logger.Debug("gemini response received",
		zap.Int("text_bytes", len(out.Text)),
		zap.Int("grounding_chunks", len(out.Grounding)),
	)
	return out, nil
}

func (c *Client) generateConfig() *genai.GenerateContentConfig {
	var tools []*genai.Tool
	if c.cfg.SearchTool {
		tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if c.cfg.MapsTool {
		tools = append(tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
	}
	return &genai.GenerateContentConfig{
		Tools:       tools,
		Temperature: genai.Ptr(c.cfg.Temperature),
	}
}
