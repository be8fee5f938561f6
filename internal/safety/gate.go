package safety

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
)

// Payload is the classifiable portion of a generation request.
type Payload struct {
	Prompt         string
	NegativePrompt string
	ImageBytes     []byte
}

// Verdict is the gate's decision. When Safe is false, Categories names the
// offending risk categories and Reason explains non-category rejections.
type Verdict struct {
	Safe       bool
	Categories []string
	Confidence float64
	Reason     string
}

// ReasonAnalysisFailed marks a fail-closed verdict caused by classifier
// failure rather than detected content.
const ReasonAnalysisFailed = "analysis_failed"

// Classifier scores a payload per risk category in [0,1].
type Classifier interface {
	Scores(ctx context.Context, p Payload) (map[string]float64, error)
}

// Gate performs the two-tier safety check: a deterministic lexical pass over
// curated term lists, then a probabilistic classifier for anything the
// lexical pass could not clear outright. The classifier failing is treated
// as Unsafe, never as approval.
type Gate struct {
	classifier Classifier
	thresholds map[string]float64
	timeout    time.Duration
	fold       cases.Caser
	logger     zerolog.Logger
}

// NewGate constructs a Gate. Thresholds default per category when nil.
func NewGate(classifier Classifier, thresholds map[string]float64, timeout time.Duration, logger zerolog.Logger) *Gate {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{
		classifier: classifier,
		thresholds: thresholds,
		timeout:    timeout,
		fold:       cases.Fold(),
		logger:     logger,
	}
}

// DefaultThresholds returns the per-category risk thresholds.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		CategoryViolence: 0.80,
		CategorySexual:   0.70,
		CategoryHate:     0.70,
		CategorySelfHarm: 0.60,
	}
}

// Classify returns the gate verdict for a payload.
//
// Lexical findings decide the fast paths: a blocked term rejects outright and
// a clean text-only payload is approved without the classifier. Borderline
// findings and image payloads always go through the probabilistic stage, and
// the final verdict is the conjunction of both stages.
func (g *Gate) Classify(ctx context.Context, p Payload) Verdict {
	text := g.fold.String(p.Prompt + "\n" + p.NegativePrompt)

	if categories := matchTerms(text, blockedTerms); len(categories) > 0 {
		return Verdict{Safe: false, Categories: categories, Confidence: 1.0}
	}

	borderline := matchTerms(text, moderateTerms)
	if len(borderline) == 0 && len(p.ImageBytes) == 0 {
		return Verdict{Safe: true}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	scores, err := g.classifier.Scores(ctx, p)
	if err != nil {
		g.logger.Warn().Err(err).Msg("safety classifier failed, failing closed")
		return Verdict{Safe: false, Categories: borderline, Reason: ReasonAnalysisFailed}
	}

	var flagged []string
	var worst float64
	for category, score := range scores {
		threshold, ok := g.thresholds[category]
		if !ok {
			threshold = 0.80
		}
		if score >= threshold {
			flagged = append(flagged, category)
			if score > worst {
				worst = score
			}
		}
	}
	if len(flagged) > 0 {
		return Verdict{Safe: false, Categories: flagged, Confidence: worst}
	}
	return Verdict{Safe: true}
}

func matchTerms(foldedText string, terms map[string]string) []string {
	seen := make(map[string]struct{})
	var categories []string
	for term, category := range terms {
		if strings.Contains(foldedText, term) {
			if _, dup := seen[category]; dup {
				continue
			}
			seen[category] = struct{}{}
			categories = append(categories, category)
		}
	}
	return categories
}
