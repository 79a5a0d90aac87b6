package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
)

type chatRequest struct {
	Message   string `json:"message"    validate:"required"`
	SessionID string `json:"session_id"`
	UseAgent  bool   `json:"use_agent"`
}

// agentRequest allows an empty message as long as images are attached, so a
// bare photo can be classified.
type agentRequest struct {
	Message     string   `json:"message"`
	Images      []string `json:"images"`
	SessionID   string   `json:"session_id"`
	UserID      string   `json:"user_id"`
	AutoExecute *bool    `json:"auto_execute"`
}

type suggestRequest struct {
	Message   string   `json:"message"    validate:"required"`
	Images    []string `json:"images"`
	SessionID string   `json:"session_id"`
}

type multiStepRequest struct {
	Workflow        string         `json:"workflow"         validate:"required"`
	Images          []string       `json:"images"`
	UserID          string         `json:"user_id"`
	UserPreferences map[string]any `json:"user_preferences"`
}

type analyzeFoodRequest struct {
	Image           string `json:"image"            validate:"required"`
	HealthCondition string `json:"health_condition"`
	DietaryGoals    string `json:"dietary_goals"`
}

type compareFoodsRequest struct {
	Images          []string `json:"images"           validate:"required,min=2,max=4"`
	HealthCondition string   `json:"health_condition"`
}

type trackCaloriesRequest struct {
	Images          []string `json:"images"           validate:"required,min=1"`
	TargetCalories  int      `json:"target_calories"`
	HealthCondition string   `json:"health_condition"`
}

type quickScanRequest struct {
	Image string `json:"image" validate:"required"`
}

type mealSuggestionRequest struct {
	MealTime           string `json:"meal_time"`
	HealthCondition    string `json:"health_condition"`
	DietaryPreferences string `json:"dietary_preferences"`
	BudgetRange        string `json:"budget_range"`
	CookingTime        string `json:"cooking_time"`
	Query              string `json:"query"`
}

type weeklyMenuRequest struct {
	HealthCondition    string `json:"health_condition"`
	DietaryPreferences string `json:"dietary_preferences"`
	BudgetRange        string `json:"budget_range"`
	CookingTime        string `json:"cooking_time"`
}

type detailedRecipesRequest struct {
	Days               int    `json:"days"`
	HealthCondition    string `json:"health_condition"`
	DietaryPreferences string `json:"dietary_preferences"`
	BudgetRange        string `json:"budget_range"`
}

type profileRequest struct {
	UserID             string   `json:"user_id"`
	Name               string   `json:"name"`
	Age                int      `json:"age"              validate:"omitempty,min=1,max=130"`
	Weight             float64  `json:"weight"           validate:"omitempty,gt=0"`
	Height             float64  `json:"height"           validate:"omitempty,gt=0"`
	HealthCondition    string   `json:"health_condition"`
	DietaryPreferences []string `json:"dietary_preferences"`
	Allergies          []string `json:"allergies"`
	TargetCalories     int      `json:"target_calories"  validate:"omitempty,min=1"`
	ActivityLevel      string   `json:"activity_level"`
}

// successEnvelope and errorEnvelope are the only two response shapes.
type successEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Failed to encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, log *slog.Logger, message string, data any) {
	writeJSON(w, log, http.StatusOK, successEnvelope{Success: true, Message: message, Data: data})
}

// writeError maps the error kind to a status code and emits the error
// envelope. Internals never leak: unknown errors collapse to a generic
// message.
func writeError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)

	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		log.WarnContext(r.Context(), "Request rejected", "path", r.URL.Path, "kind", kind, "error", err)
	}

	writeJSON(w, log, status, errorEnvelope{
		Success: false,
		Error:   apperr.MessageOf(err),
		Details: map[string]any{"kind": string(kind)},
	})
}
