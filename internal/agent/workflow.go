package agent

import (
	"context"
	"log/slog"

	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

// Workflow names accepted by Run.
const (
	WorkflowCompleteAnalysis = "complete_analysis"
	WorkflowDailyTracking    = "daily_tracking"
	WorkflowMealPlanning     = "meal_planning"
)

// StepResult records one executed step of a multi-step workflow.
type StepResult struct {
	Step   int            `json:"step"`
	Action string         `json:"action"`
	Result map[string]any `json:"result"`
}

// Workflows runs fixed capability sequences through the dispatcher.
type Workflows struct {
	dispatcher *Dispatcher
	log        *slog.Logger
}

// NewWorkflows creates the workflow runner.
func NewWorkflows(dispatcher *Dispatcher, log *slog.Logger) *Workflows {
	return &Workflows{
		dispatcher: dispatcher,
		log:        log.With("component", "workflows"),
	}
}

// Run executes the named workflow. Steps run in order and the first failing
// step aborts the run with its typed error. preferences may carry
// health_condition, dietary_goals, dietary_preferences, target_calories,
// budget_range, and meal_time.
func (w *Workflows) Run(ctx context.Context, name string, images []string, preferences map[string]any, profile *store.Profile) ([]StepResult, error) {
	var steps []workflowStep

	switch name {
	case WorkflowCompleteAnalysis:
		if len(images) == 0 {
			return nil, apperr.Validationf("workflow %q requires an image", name)
		}
		steps = []workflowStep{
			{CapQuickScan, map[string]any{
				"image": images[0],
			}},
			{CapAnalyzeFood, map[string]any{
				"image":            images[0],
				"health_condition": stringParam(preferences, "health_condition", DefaultHealthCondition),
				"dietary_goals":    stringParam(preferences, "dietary_goals", DefaultDietaryGoals),
			}},
			{CapMealSuggestion, map[string]any{
				"meal_time":           DefaultMealTime,
				"health_condition":    stringParam(preferences, "health_condition", DefaultHealthCondition),
				"dietary_preferences": "similar to the analyzed dish",
				"budget_range":        stringParam(preferences, "budget_range", DefaultMealBudget),
				"cooking_time":        DefaultCookingTime,
			}},
		}

	case WorkflowDailyTracking:
		if len(images) == 0 {
			return nil, apperr.Validationf("workflow %q requires at least one meal image", name)
		}
		steps = []workflowStep{
			{CapTrackCalories, map[string]any{
				"images":           images,
				"target_calories":  intParam(preferences, "target_calories", DefaultTargetCalories),
				"health_condition": stringParam(preferences, "health_condition", DefaultHealthCondition),
			}},
			{CapMealSuggestion, map[string]any{
				"meal_time":           "dinner",
				"health_condition":    stringParam(preferences, "health_condition", DefaultHealthCondition),
				"dietary_preferences": "balance the meals already eaten today",
				"budget_range":        stringParam(preferences, "budget_range", DefaultMealBudget),
				"cooking_time":        DefaultCookingTime,
			}},
		}

	case WorkflowMealPlanning:
		steps = []workflowStep{
			{CapMealSuggestion, map[string]any{
				"meal_time":           stringParam(preferences, "meal_time", DefaultMealTime),
				"health_condition":    stringParam(preferences, "health_condition", DefaultHealthCondition),
				"dietary_preferences": stringParam(preferences, "dietary_preferences", DefaultDietaryPreferences),
				"budget_range":        stringParam(preferences, "budget_range", DefaultMealBudget),
				"cooking_time":        DefaultCookingTime,
			}},
			{CapDetailedRecipes, map[string]any{
				"days":                DefaultRecipeDays,
				"health_condition":    stringParam(preferences, "health_condition", DefaultHealthCondition),
				"dietary_preferences": stringParam(preferences, "dietary_preferences", DefaultDietaryPreferences),
				"budget_range":        stringParam(preferences, "budget_range", DefaultPlanBudget),
			}},
			{CapWeeklyMenu, map[string]any{
				"health_condition":    stringParam(preferences, "health_condition", DefaultHealthCondition),
				"dietary_preferences": stringParam(preferences, "dietary_preferences", DefaultDietaryPreferences),
				"budget_range":        stringParam(preferences, "budget_range", DefaultPlanBudget),
				"cooking_time":        DefaultPlanCookingTime,
			}},
		}

	default:
		return nil, apperr.Validationf("unknown workflow %q", name)
	}

	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		w.log.DebugContext(ctx, "Running workflow step", "workflow", name, "step", i+1, "action", step.action)

		result, err := w.dispatcher.Execute(ctx, step.action, step.params, profile)
		if err != nil {
			w.log.ErrorContext(ctx, "Workflow step failed", "workflow", name, "step", i+1, "action", step.action, "error", err)
			return nil, err
		}
		results = append(results, StepResult{Step: i + 1, Action: step.action, Result: result})
	}

	return results, nil
}

type workflowStep struct {
	action string
	params map[string]any
}
