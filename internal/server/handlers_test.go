package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/quangtienngo661/NouMeal-be/internal/agent"
	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/config"
	"github.com/quangtienngo661/NouMeal-be/internal/recognition"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

type fakeRecognizer struct {
	mu     sync.Mutex
	labels []recognition.Label
	err    error
}

func (f *fakeRecognizer) RecognizeFood(_ context.Context, _ string) ([]recognition.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels, f.err
}

type fakeGenerator struct {
	mu          sync.Mutex
	textReply   string
	textErr     error
	visionReply string
	visionErr   error
	jsonReply   string
	jsonErr     error

	lastHistory []store.Turn
}

func (f *fakeGenerator) GenerateText(_ context.Context, _ string, history []store.Turn, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHistory = history
	return f.textReply, f.textErr
}

func (f *fakeGenerator) GenerateVision(_ context.Context, _ string, _ []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visionReply, f.visionErr
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _, _ string, _ *genai.Schema) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jsonReply, f.jsonErr
}

func (f *fakeGenerator) ClassifyJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error) {
	return f.GenerateJSON(ctx, system, prompt, schema)
}

func newTestServer(t *testing.T, rec *fakeRecognizer, gen *fakeGenerator) (*Server, store.Store) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()

	ops := agent.NewOperations(rec, gen, log)
	registry, err := agent.DefaultRegistry(ops)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	dispatcher := agent.NewDispatcher(registry, log)

	srv := New(
		config.ServerConfig{
			Addr:            ":0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
		},
		config.AgentConfig{HistoryWindow: 10, ClassifierWindow: 3},
		log,
		st,
		ops,
		dispatcher,
		agent.NewClassifier(gen, registry, log),
		agent.NewWorkflows(dispatcher, log),
	)
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func intentReply(intent string, params map[string]any, missing []string) string {
	decision := map[string]any{
		"intent":           intent,
		"confidence":       0.9,
		"explanation":      "test decision",
		"suggested_params": params,
		"missing_info":     missing,
	}
	encoded, _ := json.Marshal(decision)
	return string(encoded)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
	rec, body := doJSON(t, srv, http.MethodGet, "/api/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["success"] != true {
		t.Errorf("expected success envelope, got %v", body)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	t.Run("replies and persists both turns", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{textReply: "Hello! Ask me about food."}
		srv, st := newTestServer(t, &fakeRecognizer{}, gen)

		rec, body := doJSON(t, srv, http.MethodPost, "/api/chat",
			map[string]any{"message": "hi", "session_id": "s1"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", rec.Code, body)
		}

		data := body["data"].(map[string]any)
		if data["reply"] != "Hello! Ask me about food." {
			t.Errorf("unexpected reply: %v", data["reply"])
		}
		if data["session_id"] != "s1" {
			t.Errorf("expected session id echoed, got %v", data["session_id"])
		}

		turns, err := st.RecentTurns(context.Background(), "s1", 10)
		if err != nil {
			t.Fatalf("failed to read turns: %v", err)
		}
		if len(turns) != 2 || turns[0].Role != store.RoleUser || turns[1].Role != store.RoleAssistant {
			t.Errorf("expected user+assistant turns, got %+v", turns)
		}
	})

	t.Run("generates a session id when absent", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{textReply: "hello"}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		_, body := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{"message": "hi"})
		data := body["data"].(map[string]any)
		if data["session_id"] == "" || data["session_id"] == nil {
			t.Error("expected generated session id")
		}
	})

	t.Run("rejects empty message", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		rec, _ := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{"message": "   "})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("windows history to the last ten turns", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{textReply: "ok"}
		srv, st := newTestServer(t, &fakeRecognizer{}, gen)

		for i := 0; i < 12; i++ {
			if err := st.AppendTurns(context.Background(), "long", store.Turn{Role: store.RoleUser, Content: "x"}); err != nil {
				t.Fatalf("failed to seed turns: %v", err)
			}
		}

		doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{"message": "hi", "session_id": "long"})
		if len(gen.lastHistory) != 10 {
			t.Errorf("expected 10 history turns, got %d", len(gen.lastHistory))
		}
	})

	t.Run("upstream failure maps to 502", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{textErr: apperr.Upstream("generation service", errors.New("down"))}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		rec, body := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{"message": "hi"})
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
		if body["success"] != false {
			t.Errorf("expected error envelope, got %v", body)
		}
	})

	t.Run("timeout maps to 504", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{textErr: apperr.Upstream("generation service", context.DeadlineExceeded)}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		rec, _ := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]any{"message": "hi"})
		if rec.Code != http.StatusGatewayTimeout {
			t.Errorf("expected 504, got %d", rec.Code)
		}
	})
}

func TestAgent(t *testing.T) {
	t.Parallel()

	t.Run("classifies and executes with image injection", func(t *testing.T) {
		t.Parallel()

		rec := &fakeRecognizer{labels: []recognition.Label{{Name: "pho", Confidence: 98.5}}}
		gen := &fakeGenerator{
			jsonReply:   intentReply(agent.CapAnalyzeFood, nil, nil),
			visionReply: "about 400 kcal",
		}
		srv, _ := newTestServer(t, rec, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/agent",
			map[string]any{"message": "how many calories?", "images": []string{"aGVsbG8="}})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", recorder.Code, body)
		}

		data := body["data"].(map[string]any)
		if data["executed"] != true {
			t.Errorf("expected executed true, got %v", data["executed"])
		}
		result := data["result"].(map[string]any)
		if result["analysis"] != "about 400 kcal" {
			t.Errorf("unexpected analysis: %v", result["analysis"])
		}
		analysis := data["intent_analysis"].(map[string]any)
		if analysis["intent"] != agent.CapAnalyzeFood {
			t.Errorf("unexpected intent: %v", analysis["intent"])
		}
	})

	t.Run("missing info withholds execution", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{jsonReply: intentReply(agent.CapAnalyzeFood, nil, []string{"a food photo"})}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/agent",
			map[string]any{"message": "analyze my lunch"})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}

		data := body["data"].(map[string]any)
		if data["executed"] != false {
			t.Errorf("expected executed false, got %v", data["executed"])
		}
		result := data["result"].(map[string]any)
		if result["status"] != "need_more_info" {
			t.Errorf("expected need_more_info status, got %v", result["status"])
		}
	})

	t.Run("auto execute off only classifies", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{jsonReply: intentReply(agent.CapMealSuggestion, nil, nil)}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		_, body := doJSON(t, srv, http.MethodPost, "/api/agent",
			map[string]any{"message": "what should I eat?", "auto_execute": false})

		data := body["data"].(map[string]any)
		if data["executed"] != false {
			t.Errorf("expected executed false, got %v", data["executed"])
		}
		if data["result"] != nil {
			t.Errorf("expected no result, got %v", data["result"])
		}
	})

	t.Run("classifier failure degrades to chat", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{
			jsonErr:   apperr.Upstream("generation service", errors.New("down")),
			textReply: "happy to help with nutrition questions",
		}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/agent", map[string]any{"message": "hello"})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", recorder.Code, body)
		}

		data := body["data"].(map[string]any)
		analysis := data["intent_analysis"].(map[string]any)
		if analysis["intent"] != agent.CapChat {
			t.Errorf("expected chat fallback, got %v", analysis["intent"])
		}
		if analysis["confidence"] != 0.5 {
			t.Errorf("expected fallback confidence 0.5, got %v", analysis["confidence"])
		}
	})

	t.Run("profile overlays dispatch parameters", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{jsonReply: intentReply(agent.CapMealSuggestion, nil, nil)}
		srv, st := newTestServer(t, &fakeRecognizer{}, gen)

		if err := st.SaveProfile(context.Background(), &store.Profile{
			UserID:          "u1",
			HealthCondition: "diabetes",
			TargetCalories:  1800,
		}); err != nil {
			t.Fatalf("failed to save profile: %v", err)
		}

		gen.mu.Lock()
		gen.jsonReply = intentReply(agent.CapMealSuggestion, nil, nil)
		gen.mu.Unlock()

		_, body := doJSON(t, srv, http.MethodPost, "/api/agent",
			map[string]any{"message": "what should I eat?", "user_id": "u1"})

		data := body["data"].(map[string]any)
		result, ok := data["result"].(map[string]any)
		if !ok {
			t.Fatalf("expected result, got %v", data)
		}
		filters := result["filters"].(map[string]any)
		if filters["health_condition"] != "diabetes" {
			t.Errorf("expected profile health condition, got %v", filters["health_condition"])
		}
	})

	t.Run("image-only request is classified and executed", func(t *testing.T) {
		t.Parallel()

		rec := &fakeRecognizer{labels: []recognition.Label{{Name: "banh mi", Confidence: 91.2}}}
		gen := &fakeGenerator{jsonReply: intentReply(agent.CapQuickScan, nil, nil)}
		srv, _ := newTestServer(t, rec, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/agent",
			map[string]any{"images": []string{"aGVsbG8="}})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", recorder.Code, body)
		}

		data := body["data"].(map[string]any)
		if data["executed"] != true {
			t.Errorf("expected executed true, got %v", data["executed"])
		}
		result := data["result"].(map[string]any)
		foods := result["detected_foods"].([]any)
		if len(foods) != 1 {
			t.Errorf("expected one detected food, got %v", foods)
		}
	})

	t.Run("rejects neither message nor images", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		recorder, _ := doJSON(t, srv, http.MethodPost, "/api/agent",
			map[string]any{"message": "   "})
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("no food detected maps to 400", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{jsonReply: intentReply(agent.CapQuickScan, nil, nil)}
		srv, _ := newTestServer(t, &fakeRecognizer{labels: nil}, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/agent",
			map[string]any{"message": "what is this?", "images": []string{"aGVsbG8="}})
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d: %v", recorder.Code, body)
		}
	})
}

func TestAgentSuggest(t *testing.T) {
	t.Parallel()

	t.Run("never executes", func(t *testing.T) {
		t.Parallel()

		rec := &fakeRecognizer{labels: []recognition.Label{{Name: "pho", Confidence: 95}}}
		gen := &fakeGenerator{jsonReply: intentReply(agent.CapQuickScan, nil, nil)}
		srv, st := newTestServer(t, rec, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/agent/suggest",
			map[string]any{"message": "what is this?", "images": []string{"aGVsbG8="}})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}

		data := body["data"].(map[string]any)
		if data["can_execute"] != true {
			t.Errorf("expected can_execute true, got %v", data["can_execute"])
		}
		if _, hasResult := data["result"]; hasResult {
			t.Error("suggest endpoint must not execute")
		}

		turns, err := st.RecentTurns(context.Background(), "s", 10)
		if err != nil {
			t.Fatalf("failed to read turns: %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("suggest endpoint must not record turns, got %d", len(turns))
		}
	})

	t.Run("missing info flips can_execute", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{jsonReply: intentReply(agent.CapTrackCalories, nil, []string{"meal photos"})}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		_, body := doJSON(t, srv, http.MethodPost, "/api/agent/suggest",
			map[string]any{"message": "track my day"})

		data := body["data"].(map[string]any)
		if data["can_execute"] != false {
			t.Errorf("expected can_execute false, got %v", data["can_execute"])
		}
	})
}

func TestAgentMultiStep(t *testing.T) {
	t.Parallel()

	t.Run("meal planning returns ordered steps", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{textReply: "menu text", jsonReply: `{"suggested_meals":[]}`}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/agent/multi-step",
			map[string]any{"workflow": "meal_planning"})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", recorder.Code, body)
		}

		data := body["data"].(map[string]any)
		if data["total_steps"] != float64(3) {
			t.Errorf("expected 3 steps, got %v", data["total_steps"])
		}
	})

	t.Run("unknown workflow maps to 400", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		recorder, _ := doJSON(t, srv, http.MethodPost, "/api/agent/multi-step",
			map[string]any{"workflow": "nope"})
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("image workflow without images maps to 400", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		recorder, _ := doJSON(t, srv, http.MethodPost, "/api/agent/multi-step",
			map[string]any{"workflow": "complete_analysis"})
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", recorder.Code)
		}
	})
}

func TestStandardEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("analyze food", func(t *testing.T) {
		t.Parallel()

		rec := &fakeRecognizer{labels: []recognition.Label{{Name: "pho", Confidence: 98.5}}}
		gen := &fakeGenerator{visionReply: "around 400 kcal"}
		srv, _ := newTestServer(t, rec, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/analyze-food",
			map[string]any{"image": "aGVsbG8="})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", recorder.Code, body)
		}

		data := body["data"].(map[string]any)
		if data["health_condition"] != agent.DefaultHealthCondition {
			t.Errorf("expected default health condition, got %v", data["health_condition"])
		}
	})

	t.Run("compare foods validates image count", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		recorder, _ := doJSON(t, srv, http.MethodPost, "/api/compare-foods",
			map[string]any{"images": []string{"only-one"}})
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("quick scan upstream failure maps to 502", func(t *testing.T) {
		t.Parallel()

		rec := &fakeRecognizer{err: apperr.Upstream("recognition service", errors.New("down"))}
		srv, _ := newTestServer(t, rec, &fakeGenerator{})

		recorder, _ := doJSON(t, srv, http.MethodPost, "/api/quick-scan",
			map[string]any{"image": "aGVsbG8="})
		if recorder.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", recorder.Code)
		}
	})

	t.Run("meal suggestion returns structured meals", func(t *testing.T) {
		t.Parallel()

		gen := &fakeGenerator{jsonReply: `{"suggested_meals":[{"name":"chicken salad"}]}`}
		srv, _ := newTestServer(t, &fakeRecognizer{}, gen)

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/meal-suggestion",
			map[string]any{"meal_time": "dinner"})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}

		data := body["data"].(map[string]any)
		if data["total_suggestions"] != float64(1) {
			t.Errorf("expected 1 suggestion, got %v", data["total_suggestions"])
		}
	})

	t.Run("invalid body maps to 400", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		req := httptest.NewRequest(http.MethodPost, "/api/quick-scan", bytes.NewReader([]byte("{not json")))
		recorder := httptest.NewRecorder()
		srv.Handler().ServeHTTP(recorder, req)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", recorder.Code)
		}
	})
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	t.Run("save generates an id and get round-trips", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})

		recorder, body := doJSON(t, srv, http.MethodPost, "/api/user/profile",
			map[string]any{"name": "Anna", "health_condition": "diabetes", "target_calories": 1800})
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", recorder.Code, body)
		}

		data := body["data"].(map[string]any)
		userID, _ := data["user_id"].(string)
		if userID == "" {
			t.Fatal("expected generated user id")
		}

		recorder, body = doJSON(t, srv, http.MethodGet, "/api/user/profile/"+userID, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		profile := body["data"].(map[string]any)["profile"].(map[string]any)
		if profile["health_condition"] != "diabetes" {
			t.Errorf("unexpected profile: %v", profile)
		}
	})

	t.Run("unknown profile maps to 404", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		recorder, body := doJSON(t, srv, http.MethodGet, "/api/user/profile/nobody", nil)
		if recorder.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", recorder.Code)
		}
		if body["success"] != false {
			t.Errorf("expected error envelope, got %v", body)
		}
	})

	t.Run("rejects invalid age", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, &fakeRecognizer{}, &fakeGenerator{})
		recorder, _ := doJSON(t, srv, http.MethodPost, "/api/user/profile",
			map[string]any{"age": -4})
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", recorder.Code)
		}
	})
}
