package evaluation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/mockmate/internal/cache"
	"github.com/yoockh/mockmate/internal/models"
	"github.com/yoockh/mockmate/internal/providers/llm"
)

const (
	APIErrorSummary     = "evaluation failed due to an API error"
	noFeedbackSummary   = "The evaluation did not include written feedback."
	noAnswersSummary    = "No answers were submitted, so there is nothing to evaluate."
	defaultQuestionTTL  = 24 * time.Hour
	defaultQuestionSize = 3
)

type Options struct {
	QuestionCount int
	QuestionTTL   time.Duration
	Timeout       time.Duration // per model call, 0 means the caller's deadline
	Logger        *logrus.Entry
}

// Gateway formats prompts for the language model and parses its replies.
type Gateway struct {
	llm   llm.Provider
	cache cache.Cache
	opts  Options
	log   *logrus.Entry
}

// NewGateway builds a gateway. c may be nil to disable question caching.
func NewGateway(p llm.Provider, c cache.Cache, opts Options) *Gateway {
	if opts.QuestionCount <= 0 {
		opts.QuestionCount = defaultQuestionSize
	}
	if opts.QuestionTTL <= 0 {
		opts.QuestionTTL = defaultQuestionTTL
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gateway{llm: p, cache: c, opts: opts, log: log.WithField("component", "evaluation")}
}

func (g *Gateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.Timeout > 0 {
		return context.WithTimeout(ctx, g.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// GenerateQuestions asks the model for interview questions for role. Any
// failure yields an empty list.
func (g *Gateway) GenerateQuestions(ctx context.Context, role string) []string {
	key := cache.Key("questions", role)
	if g.cache != nil {
		var cached []string
		hit, err := g.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			g.log.WithError(err).Warn("question cache read failed")
		}
		if hit && len(cached) > 0 {
			return cached
		}
	}

	cctx, cancel := g.callCtx(ctx)
	defer cancel()

	text, err := llm.Collect(cctx, g.llm, questionsPrompt(role, g.opts.QuestionCount))
	if err != nil {
		g.log.WithError(err).WithField("role", role).Warn("question generation failed")
		return []string{}
	}

	qs := splitQuestions(text)
	if len(qs) > 0 && g.cache != nil {
		if err := g.cache.SetJSON(ctx, key, qs, g.opts.QuestionTTL); err != nil {
			g.log.WithError(err).Warn("question cache write failed")
		}
	}
	return qs
}

// Evaluate scores the full transcript in one call. Model transport failures
// produce the API error fallback with a nil error; only cancellation of ctx
// itself is returned as an error.
func (g *Gateway) Evaluate(ctx context.Context, pairs []models.QAPair, role string) (models.Evaluation, error) {
	if len(pairs) == 0 {
		return models.Evaluation{Summary: noAnswersSummary, Score: 0}, nil
	}

	cctx, cancel := g.callCtx(ctx)
	defer cancel()

	text, err := llm.Collect(cctx, g.llm, evaluationPrompt(pairs, role))
	if err != nil {
		if ctx.Err() != nil {
			return models.Evaluation{}, ctx.Err()
		}
		g.log.WithError(err).WithField("role", role).Warn("evaluation call failed")
		return models.Evaluation{Summary: APIErrorSummary, Score: 0}, nil
	}

	score, summary, ok := parseScore(text)
	if !ok {
		g.log.WithField("role", role).Warn("evaluation reply had no score marker")
	}
	if summary == "" {
		summary = noFeedbackSummary
	}
	return models.Evaluation{Summary: summary, Score: score}, nil
}
