package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/quangtienngo661/NouMeal-be/internal/gemini"
	"github.com/quangtienngo661/NouMeal-be/internal/jsonutil"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

// IntentDecision is the classifier's verdict for one user message.
type IntentDecision struct {
	Intent             string         `json:"intent"`
	Confidence         float64        `json:"confidence"`
	SuggestedParams    map[string]any `json:"suggested_params"`
	Explanation        string         `json:"explanation"`
	AlternativeActions []string       `json:"alternative_actions"`
	MissingInfo        []string       `json:"missing_info"`
	NextSuggestions    []string       `json:"next_suggestions"`
}

// Classifier maps a free-text message to a capability using the generation
// adapter's schema mode. It never fails the request: any transport or decode
// problem degrades to the chat capability at half confidence.
type Classifier struct {
	generator gemini.Client
	registry  *Registry
	log       *slog.Logger
}

// NewClassifier creates a classifier over the given capability registry.
func NewClassifier(generator gemini.Client, registry *Registry, log *slog.Logger) *Classifier {
	return &Classifier{
		generator: generator,
		registry:  registry,
		log:       log.With("component", "intent_classifier"),
	}
}

// chatFallback is the decision used whenever classification cannot complete.
func chatFallback() *IntentDecision {
	return &IntentDecision{
		Intent:             CapChat,
		Confidence:         0.5,
		SuggestedParams:    map[string]any{},
		Explanation:        "Could not determine intent, falling back to chat",
		AlternativeActions: []string{},
		MissingInfo:        []string{},
		NextSuggestions:    []string{},
	}
}

// intentSchema constrains the classifier output. suggested_params enumerates
// every parameter the capabilities accept so the model can only fill known
// keys.
var intentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"intent":     {Type: genai.TypeString, Description: "Name of the chosen capability."},
		"confidence": {Type: genai.TypeNumber, Description: "Certainty in the chosen intent, 0-1."},
		"suggested_params": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"health_condition":    {Type: genai.TypeString},
				"dietary_goals":       {Type: genai.TypeString},
				"dietary_preferences": {Type: genai.TypeString},
				"target_calories":     {Type: genai.TypeInteger},
				"meal_time":           {Type: genai.TypeString},
				"budget_range":        {Type: genai.TypeString},
				"cooking_time":        {Type: genai.TypeString},
				"days":                {Type: genai.TypeInteger},
				"query":               {Type: genai.TypeString},
				"message":             {Type: genai.TypeString},
			},
		},
		"explanation":         {Type: genai.TypeString, Description: "One sentence on why this capability was chosen."},
		"alternative_actions": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"missing_info":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Essential information absent from the request."},
		"next_suggestions":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"intent", "confidence", "explanation"},
}

// Classify decides which capability should handle the message. history
// should already be windowed by the caller.
func (c *Classifier) Classify(ctx context.Context, message string, imageCount int, history []store.Turn) *IntentDecision {
	prompt := c.buildPrompt(message, imageCount, history)

	raw, err := c.generator.ClassifyJSON(ctx, gemini.ClassifierSystemInstruction, prompt, intentSchema)
	if err != nil {
		c.log.WarnContext(ctx, "Intent classification call failed, using chat fallback", "error", err)
		return chatFallback()
	}

	decision := &IntentDecision{}
	if err := jsonutil.Extract(raw, decision); err != nil {
		c.log.WarnContext(ctx, "Intent classification output did not decode, using chat fallback", "error", err)
		return chatFallback()
	}

	if _, known := c.registry.Get(decision.Intent); !known {
		c.log.WarnContext(ctx, "Classifier chose an unregistered capability, using chat fallback", "intent", decision.Intent)
		return chatFallback()
	}

	if decision.SuggestedParams == nil {
		decision.SuggestedParams = map[string]any{}
	}
	if decision.AlternativeActions == nil {
		decision.AlternativeActions = []string{}
	}
	if decision.MissingInfo == nil {
		decision.MissingInfo = []string{}
	}
	if decision.NextSuggestions == nil {
		decision.NextSuggestions = []string{}
	}

	c.log.DebugContext(ctx, "Intent classified",
		"intent", decision.Intent, "confidence", decision.Confidence, "missing_info", len(decision.MissingInfo))
	return decision
}

func (c *Classifier) buildPrompt(message string, imageCount int, history []store.Turn) string {
	var sb strings.Builder

	sb.WriteString("Decide which capability should handle this request.\n\n")
	fmt.Fprintf(&sb, "User message: %s\n", message)
	if imageCount > 0 {
		fmt.Fprintf(&sb, "Attached images: %d\n", imageCount)
	} else {
		sb.WriteString("Attached images: none\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "- %s: %s\n", turn.Role, turn.Content)
		}
	}

	sb.WriteString("\nCapabilities:\n")
	for _, info := range c.registry.Describe() {
		fmt.Fprintf(&sb, "- %s: %s\n", info.Name, info.Description)
	}

	return sb.String()
}
