// Package imageutil handles the base64 image payloads accepted by the API.
// Clients may send either plain standard base64 or a data URI such as
// "data:image/jpeg;base64,...". Every component that consumes images goes
// through this package so both forms work everywhere.
package imageutil

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// stripDataURI trims whitespace and removes an optional data-URI prefix.
func stripDataURI(image string) string {
	image = strings.TrimSpace(image)
	if idx := strings.Index(image, ","); idx >= 0 && strings.HasPrefix(image, "data:") {
		image = image[idx+1:]
	}
	return image
}

// Normalize strips an optional data-URI prefix and verifies that the
// remaining payload decodes as standard base64. The normalized string is
// returned for callers that forward the encoded payload as-is.
func Normalize(image string) (string, error) {
	image = stripDataURI(image)
	if image == "" {
		return "", fmt.Errorf("empty image payload")
	}
	if _, err := base64.StdEncoding.DecodeString(image); err != nil {
		return "", err
	}
	return image, nil
}

// Decode strips an optional data-URI prefix and returns the raw image bytes.
func Decode(image string) ([]byte, error) {
	image = stripDataURI(image)
	if image == "" {
		return nil, fmt.Errorf("empty image payload")
	}
	return base64.StdEncoding.DecodeString(image)
}
