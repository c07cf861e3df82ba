package blog

import (
	"errors"
	"regexp"
)

// ErrUnsafeContent is returned for content that fails classification.
var ErrUnsafeContent = errors.New("content rejected by classifier")

// Patterns for markup we refuse to store. Content is rendered escaped,
// this is a second line against stored payloads reaching other clients.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)<\s*iframe\b`),
	regexp.MustCompile(`(?i)<\s*object\b`),
	regexp.MustCompile(`(?i)<\s*embed\b`),
	regexp.MustCompile(`(?i)\bjavascript\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
}

// ClassifyContent rejects content containing active-markup payloads.
func ClassifyContent(content string) error {
	for _, p := range unsafePatterns {
		if p.MatchString(content) {
			return ErrUnsafeContent
		}
	}
	return nil
}
