package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/config"
	"github.com/sonicgenius/api/internal/telemetry"
)

// Reply is the text and grounding sources returned by the model
type Reply struct {
	Model     string
	Text      string
	Citations []analysis.Citation
}

// ContentGenerator sends one invocation to a generative model
type ContentGenerator interface {
	Generate(ctx context.Context, inv *analysis.Invocation) (*Reply, error)
	IsConfigured() bool
}

// GeminiClient handles communication with the Gemini generateContent API
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	models     map[analysis.Tier]string
}

// Part is one piece of content in a request
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries binary content; Data is base64 encoded by encoding/json
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Content is a role tagged list of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Tool enables a server side capability such as search grounding
type Tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

// GenerationConfig requests structured output
type GenerationConfig struct {
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

// GenerateContentRequest represents the request body for generateContent
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerateContentResponse represents the response from generateContent
type GenerateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// NewGeminiClient creates a new Gemini API client. Request deadlines come
// from the caller's context.
func NewGeminiClient(cfg *config.GeminiConfig) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		models: map[analysis.Tier]string{
			analysis.TierStandard: cfg.Model,
			analysis.TierAdvanced: cfg.VideoModel,
		},
	}
}

// ModelFor returns the model name serving a tier
func (c *GeminiClient) ModelFor(tier analysis.Tier) string {
	if m := c.models[tier]; m != "" {
		return m
	}
	return c.models[analysis.TierStandard]
}

// Generate sends the invocation and returns the first candidate's text
func (c *GeminiClient) Generate(ctx context.Context, inv *analysis.Invocation) (*Reply, error) {
	model := c.ModelFor(inv.Tier)

	bodyBytes, err := json.Marshal(NewGenerateContentRequest(inv))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.ModelRequestsTotal.WithLabelValues(model, "error").Inc()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	telemetry.ModelRequestsTotal.WithLabelValues(model, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var genResp GenerateContentResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return replyFrom(model, &genResp), nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}

// NewGenerateContentRequest maps an invocation onto the wire request
func NewGenerateContentRequest(inv *analysis.Invocation) *GenerateContentRequest {
	var parts []Part
	if inv.Attachment != nil {
		parts = append(parts, Part{InlineData: &InlineData{
			MIMEType: inv.Attachment.MIMEType,
			Data:     inv.Attachment.Data,
		}})
	}
	parts = append(parts, Part{Text: inv.Prompt})

	req := &GenerateContentRequest{
		Contents: []Content{{Role: "user", Parts: parts}},
		GenerationConfig: &GenerationConfig{
			ResponseMIMEType: inv.ResponseMIMEType,
			ResponseSchema:   inv.ResponseSchema,
		},
	}
	if inv.SystemInstruction != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: inv.SystemInstruction}}}
	}
	if inv.UseSearch {
		req.Tools = []Tool{{GoogleSearch: &struct{}{}}}
	}
	return req
}

// replyFrom concatenates the first candidate's text parts. A reply with no
// candidates yields empty text.
func replyFrom(model string, resp *GenerateContentResponse) *Reply {
	reply := &Reply{Model: model}
	if len(resp.Candidates) == 0 {
		return reply
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	reply.Text = sb.String()

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			reply.Citations = append(reply.Citations, analysis.Citation{
				URI:   chunk.Web.URI,
				Title: chunk.Web.Title,
			})
		}
	}
	return reply
}
