package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/mockmate/internal/emotion"
	"github.com/yoockh/mockmate/internal/models"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateIdle       State = "idle"
	StateReady      State = "ready"
	StateInProgress State = "in_progress"
	StateFinalizing State = "finalizing"
	StateFinished   State = "finished"
)

var (
	ErrEmptyInput        = errors.New("interview: answer is empty")
	ErrNoPendingQuestion = errors.New("interview: no question is awaiting an answer")
	ErrNotReady          = errors.New("interview: session is not ready to start")
	ErrNotInProgress     = errors.New("interview: session is not in progress")
	ErrAlreadyFinished   = errors.New("interview: session already finished")
	ErrCancelled         = errors.New("interview: session was cancelled")
)

// EvaluationFailed is the result used when evaluation could not run at all.
var EvaluationFailed = models.Evaluation{Summary: "evaluation failed", Score: 0}

// DegradedWarning is surfaced when question generation produced nothing.
const DegradedWarning = "No interview questions could be generated. You can still start, but no question will be shown."

// MediaCapture records the camera and microphone for one session.
type MediaCapture interface {
	Acquire(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*models.Recording, error)
	Release()
	Frame(ctx context.Context) ([]byte, error)
}

// EmotionSampler periodically analyzes frames of the running capture.
type EmotionSampler interface {
	Begin(src emotion.FrameSource)
	End(ctx context.Context) error
	Final() models.EmotionSnapshot
}

// Gateway is the language-model collaborator.
type Gateway interface {
	GenerateQuestions(ctx context.Context, role string) []string
	Evaluate(ctx context.Context, pairs []models.QAPair, role string) (models.Evaluation, error)
}

type Deps struct {
	Media   MediaCapture
	Sampler EmotionSampler
	Gateway Gateway
	Logger  *logrus.Entry

	// OnChange observes every state transition after it is committed.
	OnChange func(v View)
}

// Result is the aggregate handed to the presentation layer on finish.
type Result struct {
	Recording      *models.Recording      `json:"recording"`
	RecordingError string                 `json:"recording_error,omitempty"`
	EmotionSummary models.EmotionSnapshot `json:"emotion_summary"`
	Feedback       string                 `json:"feedback"`
	Evaluation     models.Evaluation      `json:"evaluation"`
	Pairs          []models.QAPair        `json:"pairs"`
}

// View is a read-only copy of the session for rendering.
type View struct {
	ID              string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	Role            string     `json:"role"`
	State           State      `json:"state"`
	Questions       []string   `json:"questions"`
	CurrentIndex    int        `json:"current_index"`
	CurrentQuestion string     `json:"current_question,omitempty"`
	Answers         []string   `json:"answers"`
	Warning         string     `json:"warning,omitempty"`
	Cancelled       bool       `json:"cancelled"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Result          *Result    `json:"result,omitempty"`
}

// Session is the interview state machine. It is the single writer of its
// record; the mutex is never held across I/O.
type Session struct {
	id    string
	creds models.Credentials
	deps  Deps
	log   *logrus.Entry

	mu        sync.Mutex
	state     State
	role      string
	questions []string
	answers   []string
	index     int
	degraded  bool
	loading   bool
	starting  bool
	cancelled bool
	startedAt *time.Time
	endedAt   *time.Time
	result    *Result
}

func NewSession(id string, creds models.Credentials, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{
		id:    id,
		creds: creds,
		deps:  deps,
		log:   log.WithFields(logrus.Fields{"session_id": id, "user_id": creds.UserID}),
		state: StateIdle,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Credentials() models.Credentials { return s.creds }

// LoadQuestions fetches questions for role and moves Idle to Ready. A failed
// or empty fetch still reaches Ready, flagged as degraded. Outside Idle it
// returns the questions already loaded.
func (s *Session) LoadQuestions(ctx context.Context, role string) []string {
	s.mu.Lock()
	if s.state != StateIdle || s.loading {
		qs := append([]string(nil), s.questions...)
		s.mu.Unlock()
		return qs
	}
	s.loading = true
	s.role = strings.TrimSpace(role)
	s.mu.Unlock()

	qs := s.deps.Gateway.GenerateQuestions(ctx, role)
	if qs == nil {
		qs = []string{}
	}

	s.mu.Lock()
	s.loading = false
	if s.state != StateIdle {
		// cancelled while loading
		s.mu.Unlock()
		return qs
	}
	s.questions = qs
	s.degraded = len(qs) == 0
	s.state = StateReady
	v := s.viewLocked()
	s.mu.Unlock()

	if v.Warning != "" {
		s.log.WithField("role", v.Role).Warn("session ready without questions")
	}
	s.notify(v)
	return append([]string(nil), qs...)
}

// Degraded reports whether the session became Ready with no questions.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Start acquires media, starts recording and begins emotion sampling. Only a
// Ready session can start; an InProgress session ignores the call. A media
// failure leaves the session Ready with the device released.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateInProgress || s.starting:
		s.mu.Unlock()
		return nil
	case s.state != StateReady:
		st := s.state
		s.mu.Unlock()
		if st == StateFinalizing || st == StateFinished {
			return ErrAlreadyFinished
		}
		return ErrNotReady
	}
	s.starting = true
	s.mu.Unlock()

	if err := s.startMedia(ctx); err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		s.deps.Media.Release()
		s.log.WithError(err).Warn("interview start failed")
		return err
	}

	// sampling must be running before InProgress is committed
	s.deps.Sampler.Begin(s.deps.Media)

	s.mu.Lock()
	s.starting = false
	if s.cancelled {
		s.mu.Unlock()
		// Cancel ran while starting and may have missed the sampler
		if err := s.deps.Sampler.End(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).Warn("emotion sampler end failed")
		}
		s.deps.Media.Release()
		return ErrCancelled
	}
	now := time.Now().UTC()
	s.startedAt = &now
	s.state = StateInProgress
	v := s.viewLocked()
	s.mu.Unlock()

	s.log.WithField("questions", len(v.Questions)).Info("interview started")
	s.notify(v)
	return nil
}

func (s *Session) startMedia(ctx context.Context) error {
	if err := s.deps.Media.Acquire(ctx); err != nil {
		return err
	}
	return s.deps.Media.Start(ctx)
}

// SubmitAnswer records an answer to the current question and advances. It
// never finishes the session on its own.
func (s *Session) SubmitAnswer(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return ErrNotInProgress
	}
	if s.index >= len(s.questions) {
		s.mu.Unlock()
		return ErrNoPendingQuestion
	}
	s.answers = append(s.answers, text)
	s.index++
	v := s.viewLocked()
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// Finish stops capture and sampling concurrently, evaluates the transcript
// and returns the aggregate result. The session reaches Finished whatever the
// evaluation outcome. Only the first call returns a result.
func (s *Session) Finish(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	switch s.state {
	case StateInProgress:
	case StateFinalizing, StateFinished:
		s.mu.Unlock()
		return nil, ErrAlreadyFinished
	default:
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}
	s.state = StateFinalizing
	pairs := s.pairsLocked()
	role := s.role
	v := s.viewLocked()
	s.mu.Unlock()
	s.notify(v)

	res := &Result{Pairs: pairs}

	var g errgroup.Group
	g.Go(func() error {
		rec, err := s.deps.Media.Stop(ctx)
		if err != nil {
			s.log.WithError(err).Error("recording finalize failed")
			res.RecordingError = err.Error()
			return nil
		}
		res.Recording = rec
		return nil
	})
	g.Go(func() error {
		if err := s.deps.Sampler.End(ctx); err != nil {
			s.log.WithError(err).Warn("emotion sampler end failed")
		}
		return nil
	})
	_ = g.Wait()

	res.EmotionSummary = s.deps.Sampler.Final()
	res.Feedback = emotion.Describe(res.EmotionSummary)

	ev, err := s.deps.Gateway.Evaluate(ctx, pairs, role)
	if err != nil {
		s.log.WithError(err).Warn("evaluation failed")
		ev = EvaluationFailed
	}
	res.Evaluation = ev

	s.mu.Lock()
	now := time.Now().UTC()
	s.endedAt = &now
	s.state = StateFinished
	s.result = res
	v = s.viewLocked()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"score":   ev.Score,
		"answers": len(pairs),
		"present": res.EmotionSummary.CandidatePresent,
	}).Info("interview finished")
	s.notify(v)
	return res, nil
}

// Cancel tears down capture and sampling without evaluation. It is safe in any
// state and idempotent; a finish already underway is left to complete.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	if s.cancelled || s.state == StateFinished || s.state == StateFinalizing {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.state = StateFinished
	now := time.Now().UTC()
	s.endedAt = &now
	v := s.viewLocked()
	s.mu.Unlock()

	s.deps.Media.Release()
	if err := s.deps.Sampler.End(ctx); err != nil {
		s.log.WithError(err).Warn("emotion sampler end failed")
	}
	s.log.Info("interview cancelled")
	s.notify(v)
}

// CurrentQuestion returns the question awaiting an answer.
func (s *Session) CurrentQuestion() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress && s.state != StateReady {
		return "", false
	}
	if s.index >= len(s.questions) {
		return "", false
	}
	return s.questions[s.index], true
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:           s.id,
		UserID:       s.creds.UserID,
		Role:         s.role,
		State:        s.state,
		Questions:    append([]string{}, s.questions...),
		CurrentIndex: s.index,
		Answers:      append([]string{}, s.answers...),
		Cancelled:    s.cancelled,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
		Result:       s.result,
	}
	if s.index < len(s.questions) {
		v.CurrentQuestion = s.questions[s.index]
	}
	if s.degraded {
		v.Warning = DegradedWarning
	}
	return v
}

func (s *Session) pairsLocked() []models.QAPair {
	pairs := make([]models.QAPair, 0, s.index)
	for i := 0; i < s.index; i++ {
		pairs = append(pairs, models.QAPair{Question: s.questions[i], Answer: s.answers[i]})
	}
	return pairs
}

func (s *Session) notify(v View) {
	if s.deps.OnChange != nil {
		s.deps.OnChange(v)
	}
}
