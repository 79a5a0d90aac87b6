// Package recognition wraps the external image-recognition workflow API.
// It submits a base64 image to a configured workflow and returns deduplicated
// food labels above a confidence threshold. Upstream failures surface as
// typed errors; an empty result always means "the service saw no food", never
// a swallowed failure.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/config"
	"github.com/quangtienngo661/NouMeal-be/internal/imageutil"
)

// successStatusCode is the workflow API's status code for a completed request.
const successStatusCode = 10000

// Label is one recognized food with its confidence as a percentage.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Client defines the interface for food recognition.
type Client interface {
	// RecognizeFood returns the foods recognized in a single base64 image
	// (data-URI prefix allowed). The result is deduplicated by label with the
	// first-seen confidence kept, filtered to confidence strictly above the
	// configured threshold, in first-seen order. An empty slice with a nil
	// error means nothing was recognized.
	RecognizeFood(ctx context.Context, imageBase64 string) ([]Label, error)
}

type httpClient struct {
	http          *http.Client
	log           *slog.Logger
	baseURL       string
	pat           string
	userID        string
	appID         string
	workflowID    string
	timeout       time.Duration
	minConfidence float64
}

// NewClient creates a recognition client for the configured workflow.
func NewClient(cfg config.RecognitionConfig, log *slog.Logger) Client {
	return &httpClient{
		http:          &http.Client{Timeout: cfg.Timeout},
		log:           log.With("component", "recognition_client"),
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		pat:           cfg.PAT,
		userID:        cfg.UserID,
		appID:         cfg.AppID,
		workflowID:    cfg.WorkflowID,
		timeout:       cfg.Timeout,
		minConfidence: cfg.MinConfidence,
	}
}

type workflowRequest struct {
	Inputs []workflowInput `json:"inputs"`
}

type workflowInput struct {
	Data struct {
		Image struct {
			Base64 string `json:"base64"`
		} `json:"image"`
	} `json:"data"`
}

type workflowResponse struct {
	Status struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"status"`
	Results []struct {
		Outputs []struct {
			Data struct {
				Concepts []struct {
					Name  string  `json:"name"`
					Value float64 `json:"value"`
				} `json:"concepts"`
			} `json:"data"`
		} `json:"outputs"`
	} `json:"results"`
}

func (c *httpClient) RecognizeFood(ctx context.Context, imageBase64 string) ([]Label, error) {
	normalized, err := imageutil.Normalize(imageBase64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "image is not valid base64", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody workflowRequest
	input := workflowInput{}
	input.Data.Image.Base64 = normalized
	reqBody.Inputs = []workflowInput{input}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/users/%s/apps/%s/workflows/%s/results",
		c.baseURL, c.userID, c.appID, c.workflowID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.pat)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "Recognition request failed", "error", err)
		return nil, apperr.Upstream("recognition service", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Upstream("recognition service", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.log.ErrorContext(ctx, "Recognition service returned error status",
			"status", resp.StatusCode, "body_preview", preview(body))
		return nil, apperr.Upstream("recognition service",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var parsed workflowResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Upstream("recognition service",
			fmt.Errorf("undecodable response: %w", err))
	}

	if parsed.Status.Code != successStatusCode {
		c.log.ErrorContext(ctx, "Recognition workflow reported failure",
			"code", parsed.Status.Code, "description", parsed.Status.Description)
		return nil, apperr.Upstream("recognition service",
			fmt.Errorf("workflow status %d: %s", parsed.Status.Code, parsed.Status.Description))
	}

	labels := c.collectLabels(parsed)
	c.log.DebugContext(ctx, "Recognition completed", "labels", len(labels))
	return labels, nil
}

// collectLabels flattens workflow outputs into deduplicated, thresholded labels.
func (c *httpClient) collectLabels(parsed workflowResponse) []Label {
	seen := make(map[string]bool)
	labels := []Label{}
	for _, result := range parsed.Results {
		for _, output := range result.Outputs {
			for _, concept := range output.Data.Concepts {
				if concept.Value <= c.minConfidence {
					continue
				}
				if seen[concept.Name] {
					continue
				}
				seen[concept.Name] = true
				labels = append(labels, Label{
					Name:       concept.Name,
					Confidence: math.Round(concept.Value*100*100) / 100,
				})
			}
		}
	}
	return labels
}

func preview(body []byte) string {
	const max = 200
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
