// Package jsonutil extracts structured output from generation-model text.
// Models asked for JSON frequently wrap it in a markdown fence or surround it
// with prose; Extract tries a strict parse first, then a fenced block, then
// the first bare object/array span, and reports a typed *ParseError when all
// three fail so callers can fall back deliberately instead of catching
// generic decode errors.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports that no valid JSON could be recovered from model output.
// Raw holds the original text for logging and text-mode fallbacks.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no valid JSON found in model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extract decodes JSON from model output text into v.
func Extract(text string, v any) error {
	trimmed := strings.TrimSpace(text)

	strictErr := json.Unmarshal([]byte(trimmed), v)
	if strictErr == nil {
		return nil
	}

	if candidate, ok := fencedBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	if candidate, ok := bareSpan(trimmed); ok {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	return &ParseError{Raw: text, Err: strictErr}
}

// fencedBlock returns the contents of the first ```json or ``` fence.
func fencedBlock(text string) (string, bool) {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		rest := text[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end]), true
	}
	return "", false
}

// bareSpan returns the widest object or array span in the text.
func bareSpan(text string) (string, bool) {
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start {
			return text[start : end+1], true
		}
	}
	return "", false
}
