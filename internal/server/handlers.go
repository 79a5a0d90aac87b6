package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/quangtienngo661/NouMeal-be/internal/agent"
	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

// decode unmarshals the body into req and runs struct validation. The
// returned error is always validation-kind.
func (s *Server) decode(r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return apperr.Wrap(apperr.KindValidation, "request body is not valid JSON", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request: "+err.Error(), err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.log, "NouMeal nutrition API is running", map[string]any{
		"status": "OK",
		"endpoints": map[string][]string{
			"agent": {
				"/api/agent",
				"/api/agent/suggest",
				"/api/agent/multi-step",
			},
			"standard": {
				"/api/chat",
				"/api/analyze-food",
				"/api/compare-foods",
				"/api/track-calories",
				"/api/quick-scan",
				"/api/meal-suggestion",
				"/api/weekly-menu",
				"/api/detailed-recipes",
				"/api/user/profile",
			},
		},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, s.log, r, apperr.Validation("message must not be empty"))
		return
	}

	if req.UseAgent {
		s.runAgent(w, r, agentRequest{Message: req.Message, SessionID: req.SessionID})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history, err := s.store.RecentTurns(r.Context(), sessionID, s.historyWindow)
	if err != nil {
		writeError(w, s.log, r, apperr.Internal(err))
		return
	}

	reply, err := s.ops.Reply(r.Context(), history, req.Message)
	if err != nil {
		writeError(w, s.log, r, err)
		return
	}

	s.recordTurns(r.Context(), sessionID,
		store.Turn{Role: store.RoleUser, Content: req.Message},
		store.Turn{Role: store.RoleAssistant, Content: reply})

	writeSuccess(w, s.log, "Reply generated", map[string]any{
		"reply":      reply,
		"session_id": sessionID,
	})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	s.runAgent(w, r, req)
}

// runAgent is the shared classify-fill-execute flow behind /api/agent and
// /api/chat with use_agent set.
func (s *Server) runAgent(w http.ResponseWriter, r *http.Request, req agentRequest) {
	ctx := r.Context()

	if strings.TrimSpace(req.Message) == "" && len(req.Images) == 0 {
		writeError(w, s.log, r, apperr.Validation("message or at least one image is required"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	profile := s.lookupProfile(ctx, req.UserID)

	history, err := s.store.RecentTurns(ctx, sessionID, s.classifierWindow)
	if err != nil {
		writeError(w, s.log, r, apperr.Internal(err))
		return
	}

	decision := s.classifier.Classify(ctx, req.Message, len(req.Images), history)

	params := make(map[string]any, len(decision.SuggestedParams)+2)
	for k, v := range decision.SuggestedParams {
		params[k] = v
	}

	switch decision.Intent {
	case agent.CapAnalyzeFood, agent.CapQuickScan:
		if len(req.Images) > 0 {
			params["image"] = req.Images[0]
		}
	case agent.CapCompareFoods, agent.CapTrackCalories:
		if len(req.Images) > 0 {
			params["images"] = req.Images
		}
	case agent.CapChat:
		params["message"] = req.Message
	}

	autoExecute := req.AutoExecute == nil || *req.AutoExecute

	var result map[string]any
	if autoExecute {
		if len(decision.MissingInfo) > 0 {
			result = map[string]any{
				"status":       "need_more_info",
				"message":      "I need more information: " + strings.Join(decision.MissingInfo, ", "),
				"missing_info": decision.MissingInfo,
			}
		} else {
			result, err = s.dispatcher.Execute(ctx, decision.Intent, params, profile)
			if err != nil {
				writeError(w, s.log, r, err)
				return
			}
		}
	}

	executed := autoExecute && len(decision.MissingInfo) == 0

	s.recordTurns(ctx, sessionID,
		store.Turn{Role: store.RoleUser, Content: req.Message, HasImages: len(req.Images) > 0},
		store.Turn{Role: store.RoleAssistant, Content: assistantSummary(decision, result), Intent: decision.Intent})

	writeSuccess(w, s.log, "Intent processed", map[string]any{
		"session_id": sessionID,
		"intent_analysis": map[string]any{
			"intent":              decision.Intent,
			"confidence":          decision.Confidence,
			"explanation":         decision.Explanation,
			"alternative_actions": decision.AlternativeActions,
			"missing_info":        decision.MissingInfo,
		},
		"result":      result,
		"suggestions": followUps(decision, executed),
		"executed":    executed,
	})
}

func (s *Server) handleAgentSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	ctx := r.Context()

	var history []store.Turn
	if req.SessionID != "" {
		var err error
		history, err = s.store.RecentTurns(ctx, req.SessionID, s.classifierWindow)
		if err != nil {
			writeError(w, s.log, r, apperr.Internal(err))
			return
		}
	}

	decision := s.classifier.Classify(ctx, req.Message, len(req.Images), history)

	var sb strings.Builder
	fmt.Fprintf(&sb, "I understand you want: %s\n", decision.Explanation)
	fmt.Fprintf(&sb, "Suggested capability: %s (confidence %d%%)\n", decision.Intent, int(decision.Confidence*100))

	if capability, ok := s.dispatcher.Registry().Get(decision.Intent); ok {
		sb.WriteString("\nRequired parameters:\n")
		for _, p := range capability.Params {
			if !p.Required {
				continue
			}
			state := "missing"
			if _, present := decision.SuggestedParams[p.Name]; present {
				state = "provided"
			} else if (p.Name == "image" || p.Name == "images") && len(req.Images) > 0 {
				state = "provided"
			}
			fmt.Fprintf(&sb, "- %s: %s\n", p.Name, state)
		}
	}

	if len(decision.AlternativeActions) > 0 {
		sb.WriteString("\nAlternatively you could try:\n")
		for i, alt := range decision.AlternativeActions {
			if i == 3 {
				break
			}
			if altCap, ok := s.dispatcher.Registry().Get(alt); ok {
				fmt.Fprintf(&sb, "- %s: %s\n", alt, altCap.Description)
			}
		}
	}

	writeSuccess(w, s.log, "Intent analyzed", map[string]any{
		"intent_analysis": decision,
		"message":         sb.String(),
		"can_execute":     len(decision.MissingInfo) == 0,
	})
}

func (s *Server) handleAgentMultiStep(w http.ResponseWriter, r *http.Request) {
	var req multiStepRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	ctx := r.Context()

	profile := s.lookupProfile(ctx, req.UserID)

	results, err := s.workflows.Run(ctx, req.Workflow, req.Images, req.UserPreferences, profile)
	if err != nil {
		writeError(w, s.log, r, err)
		return
	}

	writeSuccess(w, s.log, "Workflow completed", map[string]any{
		"workflow":    req.Workflow,
		"total_steps": len(results),
		"results":     results,
		"summary":     fmt.Sprintf("Completed %d steps of workflow %q", len(results), req.Workflow),
	})
}

func (s *Server) handleAnalyzeFood(w http.ResponseWriter, r *http.Request) {
	var req analyzeFoodRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	s.dispatch(w, r, agent.CapAnalyzeFood, "Food analysis completed", map[string]any{
		"image":            req.Image,
		"health_condition": req.HealthCondition,
		"dietary_goals":    req.DietaryGoals,
	})
}

func (s *Server) handleCompareFoods(w http.ResponseWriter, r *http.Request) {
	var req compareFoodsRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	s.dispatch(w, r, agent.CapCompareFoods, "Food comparison completed", map[string]any{
		"images":           req.Images,
		"health_condition": req.HealthCondition,
	})
}

func (s *Server) handleTrackCalories(w http.ResponseWriter, r *http.Request) {
	var req trackCaloriesRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	params := map[string]any{
		"images":           req.Images,
		"health_condition": req.HealthCondition,
	}
	if req.TargetCalories > 0 {
		params["target_calories"] = req.TargetCalories
	}
	s.dispatch(w, r, agent.CapTrackCalories, "Calorie tracking completed", params)
}

func (s *Server) handleQuickScan(w http.ResponseWriter, r *http.Request) {
	var req quickScanRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	s.dispatch(w, r, agent.CapQuickScan, "Scan completed", map[string]any{
		"image": req.Image,
	})
}

func (s *Server) handleMealSuggestion(w http.ResponseWriter, r *http.Request) {
	var req mealSuggestionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	s.dispatch(w, r, agent.CapMealSuggestion, "Meal suggestions ready", map[string]any{
		"meal_time":           req.MealTime,
		"health_condition":    req.HealthCondition,
		"dietary_preferences": req.DietaryPreferences,
		"budget_range":        req.BudgetRange,
		"cooking_time":        req.CookingTime,
		"query":               req.Query,
	})
}

func (s *Server) handleWeeklyMenu(w http.ResponseWriter, r *http.Request) {
	var req weeklyMenuRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	s.dispatch(w, r, agent.CapWeeklyMenu, "Weekly menu ready", map[string]any{
		"health_condition":    req.HealthCondition,
		"dietary_preferences": req.DietaryPreferences,
		"budget_range":        req.BudgetRange,
		"cooking_time":        req.CookingTime,
	})
}

func (s *Server) handleDetailedRecipes(w http.ResponseWriter, r *http.Request) {
	var req detailedRecipesRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}
	params := map[string]any{
		"health_condition":    req.HealthCondition,
		"dietary_preferences": req.DietaryPreferences,
		"budget_range":        req.BudgetRange,
	}
	if req.Days > 0 {
		params["days"] = req.Days
	}
	s.dispatch(w, r, agent.CapDetailedRecipes, "Recipes ready", params)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.log, r, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	profile := &store.Profile{
		UserID:             userID,
		Name:               req.Name,
		Age:                req.Age,
		Weight:             req.Weight,
		Height:             req.Height,
		HealthCondition:    req.HealthCondition,
		DietaryPreferences: req.DietaryPreferences,
		Allergies:          req.Allergies,
		TargetCalories:     req.TargetCalories,
		ActivityLevel:      req.ActivityLevel,
	}

	if err := s.store.SaveProfile(r.Context(), profile); err != nil {
		writeError(w, s.log, r, apperr.Internal(err))
		return
	}

	writeSuccess(w, s.log, "Profile saved", map[string]any{
		"user_id": userID,
		"profile": profile,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, s.log, r, apperr.Internal(err))
		return
	}
	if profile == nil {
		writeError(w, s.log, r, apperr.NotFound(fmt.Sprintf("no profile found for user %q", userID)))
		return
	}

	writeSuccess(w, s.log, "Profile found", map[string]any{"profile": profile})
}

// dispatch runs one capability directly, dropping empty string params so the
// registry defaults apply.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, capability, message string, params map[string]any) {
	for k, v := range params {
		if str, ok := v.(string); ok && str == "" {
			delete(params, k)
		}
	}

	result, err := s.dispatcher.Execute(r.Context(), capability, params, nil)
	if err != nil {
		writeError(w, s.log, r, err)
		return
	}
	writeSuccess(w, s.log, message, result)
}

// lookupProfile fetches the user's profile when an id is given. Store
// failures degrade to no personalization instead of failing the request.
func (s *Server) lookupProfile(ctx context.Context, userID string) *store.Profile {
	if userID == "" {
		return nil
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		s.log.WarnContext(ctx, "Profile lookup failed, continuing without personalization", "user_id", userID, "error", err)
		return nil
	}
	return profile
}

// recordTurns appends conversation turns, logging instead of failing the
// request when the store is unavailable.
func (s *Server) recordTurns(ctx context.Context, sessionID string, turns ...store.Turn) {
	if err := s.store.AppendTurns(ctx, sessionID, turns...); err != nil {
		s.log.WarnContext(ctx, "Failed to record conversation turns", "session_id", sessionID, "error", err)
	}
}

// assistantSummary picks the most conversational piece of a result for the
// session history, so later turns have usable context.
func assistantSummary(decision *agent.IntentDecision, result map[string]any) string {
	for _, key := range []string{"reply", "analysis", "comparison", "tracking", "menu", "recipes", "text_suggestion", "message"} {
		if v, ok := result[key].(string); ok && v != "" {
			return v
		}
	}
	return decision.Explanation
}

// followUps mirrors the original assistant's next-step hints per intent.
func followUps(decision *agent.IntentDecision, executed bool) []string {
	if executed {
		switch decision.Intent {
		case agent.CapAnalyzeFood:
			return []string{
				"Would you like to compare this with another dish?",
				"I can build a weekly menu around this dish.",
				"Want tips to make this dish healthier?",
			}
		case agent.CapMealSuggestion:
			return []string{
				"Would you like a menu for the whole week?",
				"I can give you the detailed recipe.",
				"Want to adjust for a specific goal?",
			}
		}
		return decision.NextSuggestions
	}

	if len(decision.NextSuggestions) > 0 {
		return decision.NextSuggestions
	}
	return []string{
		"Could you give me a bit more detail?",
		"You can also send a photo for a detailed analysis.",
	}
}
