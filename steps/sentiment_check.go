package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/loanorchestrator/condition"
	"github.com/liamcoop/loanorchestrator/internal/logger"
	"github.com/liamcoop/loanorchestrator/sentiment"
)

// Sentiment strategies selectable through the "mode" param.
const (
	SentimentModeKeyword = "keyword"
	SentimentModeLLM     = "llm"
)

const purposePreviewRunes = 50

var (
	defaultRiskyKeywords = []string{"gambling", "crypto", "speculation", "investment"}

	errNoRemoteClassifier = errors.New("no remote classifier configured")
)

// SentimentCheckStep flags risky loan purposes. The outcome is always RISKY or SAFE:
// when the requested strategy fails, the keyword strategy answers instead and the
// detail records which mode produced the result.
type SentimentCheckStep struct {
	Remote sentiment.Classifier
}

func (s *SentimentCheckStep) Execute(ctx context.Context, app Application, params Params) condition.Result {
	requested := strings.ToLower(strings.TrimSpace(params.String("mode", SentimentModeKeyword)))
	keywords := params.Strings("risky_keywords", defaultRiskyKeywords)

	used := SentimentModeKeyword
	var risky bool
	var fallbackReason string

	switch requested {
	case SentimentModeKeyword:
	case SentimentModeLLM:
		answer, err := s.classifyRemote(ctx, app.Purpose, params.Duration("timeout", 0))
		if err == nil {
			used = SentimentModeLLM
			risky = answer
			break
		}
		fallbackReason = err.Error()
		logger.SentimentFallbacks.Add(1)
		logger.Warn("sentiment classifier failed, using keywords",
			"application_id", app.ID, "error", err)
	default:
		fallbackReason = fmt.Sprintf("unknown mode %q", requested)
		logger.SentimentFallbacks.Add(1)
	}

	if used == SentimentModeKeyword {
		risky = sentiment.ContainsKeyword(app.Purpose, keywords)
	}

	outcome := OutcomeSafe
	if risky {
		outcome = OutcomeRisky
	}
	detail := map[string]any{
		"mode":           used,
		"requested_mode": requested,
		"risky":          risky,
		"purpose":        preview(app.Purpose, purposePreviewRunes),
	}
	if fallbackReason != "" {
		detail["fallback_reason"] = fallbackReason
	}
	return condition.Result{Outcome: outcome, Detail: detail}
}

func (s *SentimentCheckStep) classifyRemote(ctx context.Context, text string, timeout time.Duration) (bool, error) {
	if s.Remote == nil {
		return false, errNoRemoteClassifier
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Remote.Classify(ctx, text)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
