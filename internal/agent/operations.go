package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/gemini"
	"github.com/quangtienngo661/NouMeal-be/internal/jsonutil"
	"github.com/quangtienngo661/NouMeal-be/internal/recognition"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

// Capability parameter defaults shared by dispatch and the standard endpoints.
const (
	DefaultHealthCondition    = "healthy"
	DefaultDietaryGoals       = "maintain weight"
	DefaultDietaryPreferences = "none"
	DefaultTargetCalories     = 2000
	DefaultMealTime           = "lunch"
	DefaultMealBudget         = "100k VND"
	DefaultPlanBudget         = "500k VND"
	DefaultCookingTime        = "30 minutes"
	DefaultPlanCookingTime    = "45 minutes"
	DefaultRecipeDays         = 3
)

// Capability names.
const (
	CapAnalyzeFood     = "analyze_food"
	CapCompareFoods    = "compare_foods"
	CapTrackCalories   = "track_calories"
	CapQuickScan       = "quick_scan"
	CapMealSuggestion  = "meal_suggestion"
	CapWeeklyMenu      = "weekly_menu"
	CapDetailedRecipes = "detailed_recipes"
	CapChat            = "chat"
)

// Operations implements the capability handlers on top of the recognition
// and generation adapters.
type Operations struct {
	recognizer recognition.Client
	generator  gemini.Client
	log        *slog.Logger
}

// NewOperations creates the handler set.
func NewOperations(recognizer recognition.Client, generator gemini.Client, log *slog.Logger) *Operations {
	return &Operations{
		recognizer: recognizer,
		generator:  generator,
		log:        log.With("component", "agent_operations"),
	}
}

// DefaultRegistry builds the registry with every capability registered. It
// fails only on a programming error (duplicate or incomplete registration),
// so the caller treats an error as fatal at startup.
func DefaultRegistry(ops *Operations) (*Registry, error) {
	registry := NewRegistry()
	capabilities := []*Capability{
		{
			Name:        CapAnalyzeFood,
			Description: "Analyze one food image in depth: nutrition, suitability, suggestions.",
			Params: []Param{
				{Name: "image", Required: true},
				{Name: "health_condition", Default: DefaultHealthCondition},
				{Name: "dietary_goals", Default: DefaultDietaryGoals},
			},
			Handler: ops.AnalyzeFood,
		},
		{
			Name:        CapCompareFoods,
			Description: "Compare several food images and rank them.",
			Params: []Param{
				{Name: "images", Required: true},
				{Name: "health_condition", Default: DefaultHealthCondition},
			},
			Handler: ops.CompareFoods,
		},
		{
			Name:        CapTrackCalories,
			Description: "Tally the day's meals from images against a calorie target.",
			Params: []Param{
				{Name: "images", Required: true},
				{Name: "target_calories", Default: DefaultTargetCalories},
				{Name: "health_condition", Default: DefaultHealthCondition},
			},
			Handler: ops.TrackCalories,
		},
		{
			Name:        CapQuickScan,
			Description: "Identify the food in an image without further analysis.",
			Params: []Param{
				{Name: "image", Required: true},
			},
			Handler: ops.QuickScan,
		},
		{
			Name:        CapMealSuggestion,
			Description: "Suggest dishes for one meal.",
			Params: []Param{
				{Name: "meal_time", Default: DefaultMealTime},
				{Name: "health_condition", Default: DefaultHealthCondition},
				{Name: "dietary_preferences", Default: DefaultDietaryPreferences},
				{Name: "budget_range", Default: DefaultMealBudget},
				{Name: "cooking_time", Default: DefaultCookingTime},
				{Name: "query"},
			},
			Handler: ops.MealSuggestion,
		},
		{
			Name:        CapWeeklyMenu,
			Description: "Plan a full 7-day menu.",
			Params: []Param{
				{Name: "health_condition", Default: DefaultHealthCondition},
				{Name: "dietary_preferences", Default: DefaultDietaryPreferences},
				{Name: "budget_range", Default: DefaultPlanBudget},
				{Name: "cooking_time", Default: DefaultPlanCookingTime},
			},
			Handler: ops.WeeklyMenu,
		},
		{
			Name:        CapDetailedRecipes,
			Description: "Produce detailed multi-day cooking recipes.",
			Params: []Param{
				{Name: "days", Default: DefaultRecipeDays},
				{Name: "health_condition", Default: DefaultHealthCondition},
				{Name: "dietary_preferences", Default: DefaultDietaryPreferences},
				{Name: "budget_range", Default: DefaultPlanBudget},
			},
			Handler: ops.DetailedRecipes,
		},
		{
			Name:        CapChat,
			Description: "General nutrition conversation when no other capability fits.",
			Params: []Param{
				{Name: "message", Required: true},
			},
			Handler: ops.Chat,
		},
	}

	for _, c := range capabilities {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register capabilities: %w", err)
		}
	}
	return registry, nil
}

// AnalyzeFood recognizes the dish in one image and asks the generator for a
// full nutrition analysis.
func (o *Operations) AnalyzeFood(ctx context.Context, params map[string]any) (map[string]any, error) {
	image := stringParam(params, "image", "")
	if image == "" {
		return nil, apperr.Validation("an image is required to analyze food")
	}
	healthCondition := stringParam(params, "health_condition", DefaultHealthCondition)
	dietaryGoals := stringParam(params, "dietary_goals", DefaultDietaryGoals)

	labels, err := o.recognizer.RecognizeFood(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, apperr.NoFood()
	}

	analysis, err := o.generator.GenerateVision(ctx,
		gemini.AnalyzeFoodPrompt(formatLabels(labels), healthCondition, dietaryGoals),
		[]string{image})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"detected_foods":   labels,
		"analysis":         analysis,
		"health_condition": healthCondition,
		"dietary_goals":    dietaryGoals,
	}, nil
}

// CompareFoods recognizes each dish concurrently and asks the generator to
// rank them.
func (o *Operations) CompareFoods(ctx context.Context, params map[string]any) (map[string]any, error) {
	images := stringsParam(params, "images")
	if len(images) < 2 {
		return nil, apperr.Validation("at least 2 images are required to compare foods")
	}
	if len(images) > 4 {
		return nil, apperr.Validation("at most 4 images can be compared at once")
	}
	healthCondition := stringParam(params, "health_condition", DefaultHealthCondition)

	dishes, err := o.recognizeAll(ctx, images)
	if err != nil {
		return nil, err
	}

	detected := make([]map[string]any, len(dishes))
	summaries := make([]string, len(dishes))
	for i, labels := range dishes {
		detected[i] = map[string]any{"dish_number": i + 1, "foods": labels}
		summaries[i] = fmt.Sprintf("- Dish %d: %s", i+1, labelNames(labels))
	}

	comparison, err := o.generator.GenerateVision(ctx,
		gemini.CompareFoodsPrompt(summaries, healthCondition), images)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"detected_foods": detected,
		"comparison":     comparison,
		"total_foods":    len(images),
	}, nil
}

var mealNames = []string{"Breakfast", "Lunch", "Dinner", "Snack"}

// TrackCalories recognizes each meal concurrently and asks the generator for
// a calorie report against the target.
func (o *Operations) TrackCalories(ctx context.Context, params map[string]any) (map[string]any, error) {
	images := stringsParam(params, "images")
	if len(images) == 0 {
		return nil, apperr.Validation("at least 1 meal image is required to track calories")
	}
	targetCalories := intParam(params, "target_calories", DefaultTargetCalories)
	healthCondition := stringParam(params, "health_condition", DefaultHealthCondition)

	meals, err := o.recognizeAll(ctx, images)
	if err != nil {
		return nil, err
	}

	daily := make([]map[string]any, len(meals))
	summaries := make([]string, len(meals))
	for i, labels := range meals {
		name := fmt.Sprintf("Meal %d", i+1)
		if i < len(mealNames) {
			name = mealNames[i]
		}
		daily[i] = map[string]any{"meal_name": name, "foods": labels}
		summaries[i] = fmt.Sprintf("- %s: %s", name, labelNames(labels))
	}

	tracking, err := o.generator.GenerateVision(ctx,
		gemini.TrackCaloriesPrompt(summaries, targetCalories, healthCondition), images)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"daily_meals":     daily,
		"tracking":        tracking,
		"target_calories": targetCalories,
	}, nil
}

// QuickScan returns the recognized foods without any generation call.
func (o *Operations) QuickScan(ctx context.Context, params map[string]any) (map[string]any, error) {
	image := stringParam(params, "image", "")
	if image == "" {
		return nil, apperr.Validation("an image is required for a quick scan")
	}

	labels, err := o.recognizer.RecognizeFood(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, apperr.NoFood()
	}

	return map[string]any{
		"detected_foods": labels,
		"total":          len(labels),
	}, nil
}

// MealSuggestion asks for structured meal data in schema mode. When the
// response does not decode, the raw text is returned as a plain suggestion
// rather than failing the request.
func (o *Operations) MealSuggestion(ctx context.Context, params map[string]any) (map[string]any, error) {
	mealTime := stringParam(params, "meal_time", DefaultMealTime)
	healthCondition := stringParam(params, "health_condition", DefaultHealthCondition)
	dietaryPreferences := stringParam(params, "dietary_preferences", DefaultDietaryPreferences)
	budgetRange := stringParam(params, "budget_range", DefaultMealBudget)
	cookingTime := stringParam(params, "cooking_time", DefaultCookingTime)
	query := stringParam(params, "query", "")

	prompt := gemini.MealSuggestionPrompt(mealTime, healthCondition, dietaryPreferences, budgetRange, cookingTime)
	if query != "" {
		prompt = fmt.Sprintf("The user wants: %q.\n\n%s", query, prompt)
	}

	filters := map[string]any{
		"meal_time":           mealTime,
		"health_condition":    healthCondition,
		"dietary_preferences": dietaryPreferences,
		"budget_range":        budgetRange,
		"cooking_time":        cookingTime,
	}
	if query == "" {
		query = mealTime + " meal"
	}

	raw, err := o.generator.GenerateJSON(ctx, gemini.NutritionSystemInstruction, prompt, suggestedMealsSchema)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		SuggestedMeals []map[string]any `json:"suggested_meals"`
	}
	if err := jsonutil.Extract(raw, &decoded); err != nil {
		o.log.WarnContext(ctx, "Meal suggestion output did not decode, returning text", "error", err)
		return map[string]any{
			"query":             query,
			"total_suggestions": 0,
			"meals":             []map[string]any{},
			"text_suggestion":   raw,
			"filters":           filters,
		}, nil
	}

	return map[string]any{
		"query":             query,
		"total_suggestions": len(decoded.SuggestedMeals),
		"meals":             decoded.SuggestedMeals,
		"filters":           filters,
	}, nil
}

// WeeklyMenu produces a 7-day menu as text.
func (o *Operations) WeeklyMenu(ctx context.Context, params map[string]any) (map[string]any, error) {
	menu, err := o.generator.GenerateText(ctx, gemini.NutritionSystemInstruction, nil,
		gemini.WeeklyMenuPrompt(
			stringParam(params, "health_condition", DefaultHealthCondition),
			stringParam(params, "dietary_preferences", DefaultDietaryPreferences),
			stringParam(params, "budget_range", DefaultPlanBudget),
			stringParam(params, "cooking_time", DefaultPlanCookingTime)))
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"menu":     menu,
		"duration": "7 days",
	}, nil
}

// DetailedRecipes produces multi-day recipes as text.
func (o *Operations) DetailedRecipes(ctx context.Context, params map[string]any) (map[string]any, error) {
	days := intParam(params, "days", DefaultRecipeDays)
	if days < 1 || days > 14 {
		return nil, apperr.Validation("days must be between 1 and 14")
	}

	recipes, err := o.generator.GenerateText(ctx, gemini.NutritionSystemInstruction, nil,
		gemini.DetailedRecipesPrompt(days,
			stringParam(params, "health_condition", DefaultHealthCondition),
			stringParam(params, "dietary_preferences", DefaultDietaryPreferences),
			stringParam(params, "budget_range", DefaultPlanBudget)))
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"recipes": recipes,
		"days":    days,
	}, nil
}

// Chat answers a free-form message without history. Session-aware chat goes
// through Reply instead.
func (o *Operations) Chat(ctx context.Context, params map[string]any) (map[string]any, error) {
	message := stringParam(params, "message", "")
	if message == "" {
		return nil, apperr.Validation("message must not be empty")
	}

	reply, err := o.generator.GenerateText(ctx, gemini.NutritionSystemInstruction, nil, message)
	if err != nil {
		return nil, err
	}

	return map[string]any{"reply": reply}, nil
}

// Reply answers a chat message with prior conversation turns as context.
func (o *Operations) Reply(ctx context.Context, history []store.Turn, message string) (string, error) {
	return o.generator.GenerateText(ctx, gemini.NutritionSystemInstruction, history, message)
}

// recognizeAll fans recognition out over the images and preserves input order.
func (o *Operations) recognizeAll(ctx context.Context, images []string) ([][]recognition.Label, error) {
	results := make([][]recognition.Label, len(images))

	g, gctx := errgroup.WithContext(ctx)
	for i, image := range images {
		g.Go(func() error {
			labels, err := o.recognizer.RecognizeFood(gctx, image)
			if err != nil {
				return err
			}
			results[i] = labels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func formatLabels(labels []recognition.Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s (%.2f%%)", l.Name, l.Confidence)
	}
	return strings.Join(parts, ", ")
}

// nutrientSchema describes one nutrient as a value with its unit.
var nutrientSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"value": {Type: genai.TypeNumber},
		"unit":  {Type: genai.TypeString},
	},
	Required: []string{"value", "unit"},
}

// suggestedMealsSchema constrains meal suggestions to structured meal data:
// per-meal nutrition facts, ingredients with quantities, and cooking steps.
var suggestedMealsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"suggested_meals": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":             {Type: genai.TypeString, Description: "Dish name."},
					"description":      {Type: genai.TypeString, Description: "Why this dish fits the request."},
					"difficulty":       {Type: genai.TypeString, Description: "EASY, MEDIUM, or HARD."},
					"match_percentage": {Type: genai.TypeInteger, Description: "Suitability for the request, 0-100."},
					"prep_time":        {Type: genai.TypeString},
					"servings":         {Type: genai.TypeInteger},
					"tags":             {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"nutrition_facts": {
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"calories":    nutrientSchema,
							"protein":     nutrientSchema,
							"carbs":       nutrientSchema,
							"fat":         nutrientSchema,
							"fiber":       nutrientSchema,
							"sugar":       nutrientSchema,
							"sodium":      nutrientSchema,
							"cholesterol": nutrientSchema,
						},
						Required: []string{"calories", "protein", "carbs", "fat"},
					},
					"ingredients":  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Ingredients with quantities."},
					"instructions": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Preparation steps in order."},
				},
				Required: []string{"name", "description", "nutrition_facts", "ingredients", "instructions"},
			},
		},
	},
	Required: []string{"suggested_meals"},
}

func labelNames(labels []recognition.Label) string {
	if len(labels) == 0 {
		return "nothing recognized"
	}
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return strings.Join(names, ", ")
}
