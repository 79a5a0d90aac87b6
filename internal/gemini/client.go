// Package gemini implements integration with Google's Gemini AI API.
// It provides the text, vision, and structured-output generation used by the
// nutrition agent.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/config"
	"github.com/quangtienngo661/NouMeal-be/internal/imageutil"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

// Client defines the interface for AI generation used throughout the application.
type Client interface {
	// GenerateText produces a reply given a system instruction, prior
	// conversation turns, and the current user message.
	GenerateText(ctx context.Context, system string, history []store.Turn, message string) (string, error)

	// GenerateVision produces a reply from a prompt plus one or more base64
	// images. The MIME type of each image is sniffed from its decoded bytes.
	GenerateVision(ctx context.Context, prompt string, imagesBase64 []string) (string, error)

	// GenerateJSON produces output constrained to the given schema. The
	// returned string is the raw JSON text.
	GenerateJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error)

	// ClassifyJSON is GenerateJSON on the lighter classifier model, for
	// latency-sensitive routing calls.
	ClassifyJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error)
}

type sdkClient struct {
	genaiClient     *genai.Client
	log             *slog.Logger
	contentConfig   *genai.GenerateContentConfig
	modelName       string
	classifierModel string
	timeout         time.Duration
	maxRetries      int
	retryDelay      time.Duration
}

// NewClient creates a new Gemini AI client with the provided configuration.
// It initializes the connection to the Gemini API and sets up generation
// parameters shared by all calls.
func NewClient(
	ctx context.Context,
	cfg config.GeminiConfig,
	log *slog.Logger,
) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	maxTokens := cfg.MaxOutputTokens

	baseCfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,

		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.Model, "classifier_model", cfg.ClassifierModel)
	return &sdkClient{
		genaiClient:     gi,
		log:             logger,
		contentConfig:   baseCfg,
		modelName:       cfg.Model,
		classifierModel: cfg.ClassifierModel,
		timeout:         cfg.Timeout,
		maxRetries:      cfg.MaxRetries,
		retryDelay:      time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError", "delay", c.retryDelay, "code", apiErr.Code)
				time.Sleep(c.retryDelay)
				continue
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries with APIError", "error", err, "code", apiErr.Code)
			return nil, apperr.Upstream("generation service",
				fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err))
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return nil, apperr.Upstream("generation service", err)
	}
	return nil, apperr.Upstream("generation service", err)
}

func (c *sdkClient) GenerateText(ctx context.Context, system string, history []store.Turn, message string) (string, error) {
	c.log.DebugContext(ctx, "Generating text reply", "history_turns", len(history))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var contents []*genai.Content
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == store.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	copyCfg := *c.contentConfig
	if system != "" {
		copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := c.generateContentWithRetries(ctx, c.modelName, contents, &copyCfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini text generation failed", "error", err)
		return "", err
	}

	return c.extractTextFromResponse(ctx, resp, "text generation")
}

func (c *sdkClient) GenerateVision(ctx context.Context, prompt string, imagesBase64 []string) (string, error) {
	c.log.DebugContext(ctx, "Generating vision reply", "image_count", len(imagesBase64))
	if len(imagesBase64) == 0 {
		return "", apperr.Validation("at least one image is required for vision analysis")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	imgParts, err := imageParts(imagesBase64)
	if err != nil {
		return "", err
	}
	parts := append([]*genai.Part{genai.NewPartFromText(prompt)}, imgParts...)

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	copyCfg := *c.contentConfig
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: NutritionSystemInstruction}}}

	resp, err := c.generateContentWithRetries(ctx, c.modelName, contents, &copyCfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini vision generation failed", "error", err)
		return "", err
	}

	return c.extractTextFromResponse(ctx, resp, "vision analysis")
}

// imageParts decodes base64 images (data-URI prefix allowed) into inline
// parts, sniffing each MIME type from the decoded bytes.
func imageParts(imagesBase64 []string) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(imagesBase64))
	for i, img := range imagesBase64 {
		data, err := imageutil.Decode(img)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation,
				fmt.Sprintf("image %d is not valid base64", i+1), err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, http.DetectContentType(data)))
	}
	return parts, nil
}

func (c *sdkClient) GenerateJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error) {
	return c.generateJSON(ctx, c.modelName, system, prompt, schema)
}

func (c *sdkClient) ClassifyJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error) {
	return c.generateJSON(ctx, c.classifierModel, system, prompt, schema)
}

func (c *sdkClient) generateJSON(ctx context.Context, model, system, prompt string, schema *genai.Schema) (string, error) {
	c.log.DebugContext(ctx, "Generating structured output", "model", model)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	copyCfg := *c.contentConfig
	if system != "" {
		copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = schema

	resp, err := c.generateContentWithRetries(ctx, model, contents, &copyCfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini structured generation failed", "error", err)
		return "", err
	}

	return c.extractTextFromResponse(ctx, resp, "structured generation")
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse, op string) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", apperr.Upstream("generation service", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)
		return "", apperr.Upstream("generation service", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason))
	}

	text := resp.Text()
	if text == "" {
		c.log.WarnContext(ctx, "Gemini response text is empty", "operation", op)
		return "", apperr.Upstream("generation service", fmt.Errorf("%s returned empty text", op))
	}

	return text, nil
}
