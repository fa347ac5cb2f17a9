// Package sentiment classifies free-text loan purposes as risky or safe.
//
// Two strategies implement [Classifier]:
//   - [KeywordClassifier] does a case-insensitive substring match against a keyword list
//   - [ChatClassifier] asks a remote chat-completions model
//
// Remote failures are reported as [*ClassificationError] so callers can apply their
// own fallback policy. Nothing in this package retries.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClassification is matched by every fault a Classifier reports.
var ErrClassification = errors.New("sentiment classification failed")

// Classifier decides whether a piece of text describes a risky purpose.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// ClassificationError describes why a classifier could not produce an answer.
type ClassificationError struct {
	Strategy   string
	StatusCode int
	Err        error
}

func (e *ClassificationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s classifier: http %d: %v", e.Strategy, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s classifier: %v", e.Strategy, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func (e *ClassificationError) Is(target error) bool { return target == ErrClassification }

// KeywordClassifier flags text containing any of Keywords, ignoring case.
type KeywordClassifier struct {
	Keywords []string
}

// Classify never fails.
func (k KeywordClassifier) Classify(_ context.Context, text string) (bool, error) {
	return ContainsKeyword(text, k.Keywords), nil
}

// ContainsKeyword reports whether text contains any non-blank keyword, case-insensitively.
func ContainsKeyword(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	low := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}
