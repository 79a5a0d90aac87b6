package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"google.golang.org/genai"

	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pngPayload is enough of a PNG header for MIME sniffing.
var pngPayload = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("rejects missing API key", func(t *testing.T) {
		t.Parallel()

		if _, err := NewClient(context.Background(), config.GeminiConfig{}, testLogger()); err == nil {
			t.Error("expected error for missing API key")
		}
	})
}

func TestImageParts(t *testing.T) {
	t.Parallel()

	raw := base64.StdEncoding.EncodeToString(pngPayload)

	t.Run("plain base64", func(t *testing.T) {
		t.Parallel()

		parts, err := imageParts([]string{raw})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(parts) != 1 || parts[0].InlineData == nil {
			t.Fatalf("expected one inline part, got %+v", parts)
		}
		if parts[0].InlineData.MIMEType != "image/png" {
			t.Errorf("expected sniffed image/png, got %q", parts[0].InlineData.MIMEType)
		}
		if !bytes.Equal(parts[0].InlineData.Data, pngPayload) {
			t.Errorf("unexpected image bytes: %v", parts[0].InlineData.Data)
		}
	})

	t.Run("data uri prefix is stripped", func(t *testing.T) {
		t.Parallel()

		parts, err := imageParts([]string{"data:image/png;base64," + raw})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(parts) != 1 || parts[0].InlineData == nil {
			t.Fatalf("expected one inline part, got %+v", parts)
		}
		if !bytes.Equal(parts[0].InlineData.Data, pngPayload) {
			t.Errorf("expected decoded image bytes, got %v", parts[0].InlineData.Data)
		}
	})

	t.Run("invalid base64 maps to validation kind", func(t *testing.T) {
		t.Parallel()

		_, err := imageParts([]string{raw, "not!!base64"})
		if err == nil {
			t.Fatal("expected error for invalid base64")
		}
		if kind := apperr.KindOf(err); kind != apperr.KindValidation {
			t.Errorf("expected validation kind, got %s", kind)
		}
		if got := apperr.MessageOf(err); got != "image 2 is not valid base64" {
			t.Errorf("unexpected message: %q", got)
		}
	})

	t.Run("multiple images keep order", func(t *testing.T) {
		t.Parallel()

		second := base64.StdEncoding.EncodeToString([]byte("plain text"))
		parts, err := imageParts([]string{raw, second})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(parts) != 2 {
			t.Fatalf("expected two parts, got %d", len(parts))
		}
		if parts[0].InlineData.MIMEType != "image/png" {
			t.Errorf("expected first part image/png, got %q", parts[0].InlineData.MIMEType)
		}
		if string(parts[1].InlineData.Data) != "plain text" {
			t.Errorf("unexpected second part bytes: %v", parts[1].InlineData.Data)
		}
	})
}

func TestGenerateVisionValidation(t *testing.T) {
	t.Parallel()

	c := &sdkClient{log: testLogger(), contentConfig: &genai.GenerateContentConfig{}}

	t.Run("requires at least one image", func(t *testing.T) {
		t.Parallel()

		_, err := c.GenerateVision(context.Background(), "describe", nil)
		if kind := apperr.KindOf(err); kind != apperr.KindValidation {
			t.Errorf("expected validation kind, got %s", kind)
		}
	})

	t.Run("rejects undecodable image before any API call", func(t *testing.T) {
		t.Parallel()

		_, err := c.GenerateVision(context.Background(), "describe", []string{"%%%"})
		if kind := apperr.KindOf(err); kind != apperr.KindValidation {
			t.Errorf("expected validation kind, got %s", kind)
		}
	})
}

func TestExtractTextFromResponse(t *testing.T) {
	t.Parallel()

	c := &sdkClient{log: testLogger()}
	ctx := context.Background()

	t.Run("blocked prompt maps to upstream error", func(t *testing.T) {
		t.Parallel()

		resp := &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
				BlockReason:        genai.BlockedReasonSafety,
				BlockReasonMessage: "flagged",
			},
		}
		_, err := c.extractTextFromResponse(ctx, resp, "text generation")
		if err == nil {
			t.Fatal("expected error for blocked prompt")
		}
		if kind := apperr.KindOf(err); kind != apperr.KindUpstream {
			t.Errorf("expected upstream kind, got %s", kind)
		}
	})

	t.Run("no candidates maps to upstream error", func(t *testing.T) {
		t.Parallel()

		_, err := c.extractTextFromResponse(ctx, &genai.GenerateContentResponse{}, "text generation")
		if err == nil {
			t.Fatal("expected error for empty response")
		}
		if kind := apperr.KindOf(err); kind != apperr.KindUpstream {
			t.Errorf("expected upstream kind, got %s", kind)
		}
	})

	t.Run("empty text maps to upstream error", func(t *testing.T) {
		t.Parallel()

		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []*genai.Part{{Text: ""}}}},
			},
		}
		_, err := c.extractTextFromResponse(ctx, resp, "text generation")
		if err == nil {
			t.Fatal("expected error for empty text")
		}
	})

	t.Run("returns candidate text", func(t *testing.T) {
		t.Parallel()

		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []*genai.Part{{Text: "about 400 kcal"}}}},
			},
		}
		got, err := c.extractTextFromResponse(ctx, resp, "vision analysis")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "about 400 kcal" {
			t.Errorf("unexpected text: %q", got)
		}
	})
}
