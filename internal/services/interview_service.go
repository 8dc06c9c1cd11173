package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/mockmate/internal/emotion"
	"github.com/yoockh/mockmate/internal/events"
	"github.com/yoockh/mockmate/internal/interview"
	"github.com/yoockh/mockmate/internal/media"
	"github.com/yoockh/mockmate/internal/models"
	"github.com/yoockh/mockmate/internal/providers/tts"
	mongorepo "github.com/yoockh/mockmate/internal/repositories/mongo"
	pgrepo "github.com/yoockh/mockmate/internal/repositories/postgres"
	"github.com/yoockh/mockmate/internal/storage"
	"github.com/yoockh/mockmate/internal/utils"
	"gorm.io/datatypes"
)

type InterviewService interface {
	Create(ctx context.Context, creds models.Credentials, role string) (interview.View, error)
	Get(ctx context.Context, userID, sessionID string) (interview.View, error)
	Start(ctx context.Context, userID, sessionID string) (interview.View, error)
	SubmitAnswer(ctx context.Context, userID, sessionID, text string) (interview.View, error)
	QueueAudioAnswer(ctx context.Context, userID, sessionID, language string, audio []byte) (string, error)
	QuestionAudio(ctx context.Context, userID, sessionID string) (io.ReadCloser, string, error)
	Finish(ctx context.Context, userID, sessionID string) (*interview.Result, error)
	Cancel(ctx context.Context, userID, sessionID string) error
	Result(ctx context.Context, userID, sessionID string) (*models.InterviewResult, error)
	Device(userID, sessionID string) (*media.RemoteDevice, error)
	// AgentDetached cancels the session unless its capture agent reconnects
	// within the grace period.
	AgentDetached(sessionID string)

	// ApplyTranscript submits a transcribed voice answer on behalf of the answer worker.
	ApplyTranscript(ctx context.Context, sessionID, text string) error
	// AnswerFailed tells the live channel a queued voice answer was dropped.
	AnswerFailed(sessionID, reason string)
}

// AnswerQueue hands recorded voice answers to the transcription workers.
type AnswerQueue interface {
	Enqueue(ctx context.Context, job AnswerJob) (string, error)
}

type AnswerJob struct {
	SessionID string
	UserID    string
	Language  string
	Audio     []byte
}

type InterviewConfig struct {
	SampleInterval    time.Duration
	DeviceOpenTimeout time.Duration
	FinalizeTimeout   time.Duration
	FinishTimeout     time.Duration
	RetainFinished    time.Duration
	SignedURLTTL      time.Duration
	MaxAudioBytes     int
	DeviceRetry       *media.RetryPolicy

	// AgentGrace is how long an unfinished session waits for its capture
	// agent to reconnect. AbandonAfter is the janitor's bound for unfinished
	// sessions that have no agent at all.
	AgentGrace   time.Duration
	AbandonAfter time.Duration
}

// InterviewDeps lists collaborators. Repositories, Queue, TTS and Signer may be
// nil; the matching feature is then disabled.
type InterviewDeps struct {
	Gateway     interview.Gateway
	Uploader    storage.Uploader
	Signer      storage.Signer
	NewAnalyzer func(creds models.Credentials) emotion.Analyzer
	Broker      events.Broker

	Sessions  mongorepo.SessionRepository
	Snapshots mongorepo.SnapshotRepository
	Results   pgrepo.ResultRepo

	Queue AnswerQueue
	TTS   tts.Provider

	Logger *logrus.Logger
}

type liveSession struct {
	session *interview.Session
	device  *media.RemoteDevice

	mu         sync.Mutex
	lastState  interview.State
	finishedAt time.Time
	lastSeen   time.Time // creation or last agent disconnect
	detachGen  int
}

// InterviewManager owns the live interview sessions of this process.
type InterviewManager struct {
	cfg  InterviewConfig
	deps InterviewDeps
	log  *logrus.Logger

	mu   sync.RWMutex
	live map[string]*liveSession
}

func NewInterviewService(cfg InterviewConfig, deps InterviewDeps) *InterviewManager {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.DeviceOpenTimeout <= 0 {
		cfg.DeviceOpenTimeout = 30 * time.Second
	}
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = 90 * time.Second
	}
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = 30 * time.Minute
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 10 << 20
	}
	if cfg.AgentGrace <= 0 {
		cfg.AgentGrace = 15 * time.Second
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 10 * time.Minute
	}
	if deps.Broker == nil {
		deps.Broker = events.NewMemoryBroker()
	}
	log := deps.Logger
	if log == nil {
		log = logrus.New()
	}
	return &InterviewManager{cfg: cfg, deps: deps, log: log, live: map[string]*liveSession{}}
}

func (s *InterviewManager) Create(ctx context.Context, creds models.Credentials, role string) (interview.View, error) {
	const op = "InterviewService.Create"

	role = strings.TrimSpace(role)
	if creds.UserID == "" {
		return interview.View{}, utils.E(utils.CodeUnauthorized, op, "unauthorized", nil)
	}
	if role == "" {
		return interview.View{}, utils.E(utils.CodeInvalidArgument, op, "role is required", nil)
	}

	id := uuid.NewString()
	entry := logrus.NewEntry(s.log).WithField("session_id", id)

	dev := media.NewRemoteDevice(s.cfg.DeviceOpenTimeout)
	capture := media.NewCapture(dev, s.deps.Uploader, media.Options{
		Retry:           s.cfg.DeviceRetry,
		ObjectPrefix:    "recordings/" + id,
		FinalizeTimeout: s.cfg.FinalizeTimeout,
		Logger:          entry,
	})

	var analyzer emotion.Analyzer = noAnalyzer{}
	if s.deps.NewAnalyzer != nil {
		analyzer = s.deps.NewAnalyzer(creds)
	}
	sampler := emotion.NewSampler(analyzer, emotion.Options{
		Interval: s.cfg.SampleInterval,
		OnSample: func(seq int64, snap models.EmotionSnapshot) { s.onSample(id, seq, snap) },
		Logger:   entry,
	})

	ls := &liveSession{device: dev, lastState: interview.StateIdle, lastSeen: time.Now()}
	ls.session = interview.NewSession(id, creds, interview.Deps{
		Media:    capture,
		Sampler:  sampler,
		Gateway:  s.deps.Gateway,
		Logger:   entry,
		OnChange: func(v interview.View) { s.onChange(ls, v) },
	})

	s.mu.Lock()
	s.live[id] = ls
	s.mu.Unlock()

	ls.session.LoadQuestions(ctx, role)
	return ls.session.View(), nil
}

func (s *InterviewManager) lookup(op, userID, sessionID string) (*liveSession, error) {
	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	s.mu.RLock()
	ls, ok := s.live[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "session not found", utils.ErrNotFound)
	}
	if ls.session.Credentials().UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}
	return ls, nil
}

func (s *InterviewManager) Get(ctx context.Context, userID, sessionID string) (interview.View, error) {
	const op = "InterviewService.Get"

	ls, err := s.lookup(op, userID, sessionID)
	if err == nil {
		return ls.session.View(), nil
	}
	if !utils.IsCode(err, utils.CodeNotFound) || s.deps.Sessions == nil {
		return interview.View{}, err
	}

	rec, err := s.deps.Sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return interview.View{}, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return interview.View{}, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	if rec.UserID != userID {
		return interview.View{}, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}
	return viewFromRecord(rec), nil
}

func (s *InterviewManager) Start(ctx context.Context, userID, sessionID string) (interview.View, error) {
	const op = "InterviewService.Start"

	ls, err := s.lookup(op, userID, sessionID)
	if err != nil {
		return interview.View{}, err
	}
	if err := ls.session.Start(ctx); err != nil {
		return ls.session.View(), sessionError(op, err)
	}
	return ls.session.View(), nil
}

func (s *InterviewManager) SubmitAnswer(ctx context.Context, userID, sessionID, text string) (interview.View, error) {
	const op = "InterviewService.SubmitAnswer"

	ls, err := s.lookup(op, userID, sessionID)
	if err != nil {
		return interview.View{}, err
	}
	if err := ls.session.SubmitAnswer(text); err != nil {
		return ls.session.View(), sessionError(op, err)
	}
	return ls.session.View(), nil
}

func (s *InterviewManager) QueueAudioAnswer(ctx context.Context, userID, sessionID, language string, audio []byte) (string, error) {
	const op = "InterviewService.QueueAudioAnswer"

	if s.deps.Queue == nil {
		return "", utils.E(utils.CodeUnavailable, op, "voice answers are not enabled", nil)
	}
	if len(audio) == 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "audio is required", nil)
	}
	if len(audio) > s.cfg.MaxAudioBytes {
		return "", utils.E(utils.CodeInvalidArgument, op, "audio is too large", nil)
	}

	ls, err := s.lookup(op, userID, sessionID)
	if err != nil {
		return "", err
	}
	v := ls.session.View()
	if v.State != interview.StateInProgress {
		return "", sessionError(op, interview.ErrNotInProgress)
	}
	if v.CurrentIndex >= len(v.Questions) {
		return "", sessionError(op, interview.ErrNoPendingQuestion)
	}

	jobID, err := s.deps.Queue.Enqueue(ctx, AnswerJob{SessionID: sessionID, UserID: userID, Language: language, Audio: audio})
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "failed to enqueue audio", err)
	}
	return jobID, nil
}

func (s *InterviewManager) ApplyTranscript(ctx context.Context, sessionID, text string) error {
	const op = "InterviewService.ApplyTranscript"

	s.mu.RLock()
	ls, ok := s.live[sessionID]
	s.mu.RUnlock()
	if !ok {
		return utils.E(utils.CodeNotFound, op, "session not found", utils.ErrNotFound)
	}

	if err := ls.session.SubmitAnswer(text); err != nil {
		s.publish(sessionID, events.TypeAnswerFailed, fields{"reason": err.Error()})
		return sessionError(op, err)
	}
	s.publish(sessionID, events.TypeTranscript, fields{"text": strings.TrimSpace(text)})
	return nil
}

func (s *InterviewManager) AnswerFailed(sessionID, reason string) {
	s.publish(sessionID, events.TypeAnswerFailed, fields{"reason": reason})
}

func (s *InterviewManager) QuestionAudio(ctx context.Context, userID, sessionID string) (io.ReadCloser, string, error) {
	const op = "InterviewService.QuestionAudio"

	if s.deps.TTS == nil {
		return nil, "", utils.E(utils.CodeUnavailable, op, "question audio is not enabled", nil)
	}
	ls, err := s.lookup(op, userID, sessionID)
	if err != nil {
		return nil, "", err
	}
	q, ok := ls.session.CurrentQuestion()
	if !ok {
		return nil, "", utils.E(utils.CodePrecondition, op, "no question is awaiting an answer", nil)
	}

	audio, ct, err := s.deps.TTS.Synthesize(ctx, q)
	if err != nil {
		return nil, "", utils.E(utils.CodeUnavailable, op, "speech synthesis failed", err)
	}
	return audio, ct, nil
}

func (s *InterviewManager) Finish(ctx context.Context, userID, sessionID string) (*interview.Result, error) {
	const op = "InterviewService.Finish"

	ls, err := s.lookup(op, userID, sessionID)
	if err != nil {
		return nil, err
	}

	// teardown and evaluation outlive a dropped client connection
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinishTimeout)
	defer cancel()

	res, err := ls.session.Finish(fctx)
	if err != nil {
		return nil, sessionError(op, err)
	}
	s.saveResult(fctx, ls.session.View(), res)
	return res, nil
}

func (s *InterviewManager) Cancel(ctx context.Context, userID, sessionID string) error {
	const op = "InterviewService.Cancel"

	ls, err := s.lookup(op, userID, sessionID)
	if err != nil {
		return err
	}
	ls.session.Cancel(context.WithoutCancel(ctx))
	return nil
}

func (s *InterviewManager) Result(ctx context.Context, userID, sessionID string) (*models.InterviewResult, error) {
	const op = "InterviewService.Result"

	var row *models.InterviewResult
	if ls, err := s.lookup(op, userID, sessionID); err == nil {
		v := ls.session.View()
		if v.Result == nil {
			return nil, utils.E(utils.CodePrecondition, op, "interview has no result yet", nil)
		}
		row, err = resultRow(v, v.Result)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to build result", err)
		}
	} else if !utils.IsCode(err, utils.CodeNotFound) {
		return nil, err
	} else {
		if s.deps.Results == nil {
			return nil, err
		}
		row, err = s.deps.Results.GetBySessionID(ctx, userID, sessionID)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil, utils.E(utils.CodeNotFound, op, "result not found", err)
			}
			return nil, utils.E(utils.CodeInternal, op, "failed to get result", err)
		}
	}

	if s.deps.Signer != nil && row.RecordingObject != "" {
		if u, err := s.deps.Signer.SignedGetURL(ctx, row.RecordingObject, s.cfg.SignedURLTTL); err == nil {
			row.RecordingURL = u
		} else {
			s.log.WithError(err).WithField("session_id", sessionID).Warn("recording url signing failed")
		}
	}
	return row, nil
}

func (s *InterviewManager) Device(userID, sessionID string) (*media.RemoteDevice, error) {
	ls, err := s.lookup("InterviewService.Device", userID, sessionID)
	if err != nil {
		return nil, err
	}
	return ls.device, nil
}

func (s *InterviewManager) AgentDetached(sessionID string) {
	s.mu.RLock()
	ls, ok := s.live[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	ls.mu.Lock()
	ls.lastSeen = time.Now()
	ls.detachGen++
	gen := ls.detachGen
	ls.mu.Unlock()

	time.AfterFunc(s.cfg.AgentGrace, func() {
		ls.mu.Lock()
		stale := ls.detachGen != gen
		ls.mu.Unlock()
		if stale || ls.device.Attached() || !unfinished(ls.session.View().State) {
			return
		}
		s.log.WithField("session_id", sessionID).Warn("capture agent did not return; cancelling interview")
		ls.session.Cancel(context.Background())
	})
}

// Reap drops finished sessions older than the retention window from memory
// and cancels unfinished ones whose agent has been gone past AbandonAfter.
// It returns the number of sessions dropped.
func (s *InterviewManager) Reap(now time.Time) int {
	var abandoned []*liveSession

	s.mu.Lock()
	n := 0
	for id, ls := range s.live {
		ls.mu.Lock()
		done := !ls.finishedAt.IsZero() && now.Sub(ls.finishedAt) > s.cfg.RetainFinished
		idle := ls.finishedAt.IsZero() && now.Sub(ls.lastSeen) > s.cfg.AbandonAfter
		ls.mu.Unlock()
		switch {
		case done:
			delete(s.live, id)
			n++
		case idle && !ls.device.Attached() && unfinished(ls.session.View().State):
			abandoned = append(abandoned, ls)
		}
	}
	s.mu.Unlock()

	for _, ls := range abandoned {
		s.log.WithField("session_id", ls.session.ID()).Warn("abandoned interview cancelled")
		ls.session.Cancel(context.Background())
	}
	return n
}

func unfinished(st interview.State) bool {
	return st == interview.StateIdle || st == interview.StateReady || st == interview.StateInProgress
}

// RunJanitor calls Reap every interval until ctx ends.
func (s *InterviewManager) RunJanitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Reap(now); n > 0 {
				s.log.WithField("reaped", n).Debug("finished sessions evicted")
			}
		}
	}
}

// Shutdown cancels every session that has not finished.
func (s *InterviewManager) Shutdown(ctx context.Context) {
	s.mu.RLock()
	all := make([]*liveSession, 0, len(s.live))
	for _, ls := range s.live {
		all = append(all, ls)
	}
	s.mu.RUnlock()

	for _, ls := range all {
		ls.session.Cancel(ctx)
	}
}

func (s *InterviewManager) onChange(ls *liveSession, v interview.View) {
	ls.mu.Lock()
	prev := ls.lastState
	ls.lastState = v.State
	if v.State == interview.StateFinished {
		ls.finishedAt = time.Now()
	}
	ls.mu.Unlock()

	s.publish(v.ID, events.TypeState, v)

	if s.deps.Sessions == nil || prev == v.State {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch v.State {
	case interview.StateReady:
		err = s.deps.Sessions.Create(ctx, &models.Session{
			SessionID: v.ID,
			UserID:    v.UserID,
			Role:      v.Role,
			Questions: v.Questions,
			Status:    models.SessionStatusReady,
		})
	case interview.StateInProgress:
		started := time.Now().UTC()
		if v.StartedAt != nil {
			started = *v.StartedAt
		}
		err = s.deps.Sessions.Start(ctx, v.ID, started)
	case interview.StateFinalizing:
		err = s.deps.Sessions.SetStatus(ctx, v.ID, models.SessionStatusFinalizing)
	case interview.StateFinished:
		ended := time.Now().UTC()
		if v.EndedAt != nil {
			ended = *v.EndedAt
		}
		var dur int64
		if v.StartedAt != nil {
			dur = int64(ended.Sub(*v.StartedAt).Seconds())
		}
		status := models.SessionStatusEnded
		if v.Cancelled {
			status = models.SessionStatusCancelled
		}
		err = s.deps.Sessions.End(ctx, v.ID, status, ended, dur)
	}
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"session_id": v.ID, "state": v.State}).Warn("session record update failed")
	}
}

func (s *InterviewManager) onSample(sessionID string, seq int64, snap models.EmotionSnapshot) {
	s.publish(sessionID, events.TypeEmotion, fields{"seq": seq, "snapshot": snap, "dominant": emotion.Dominant(snap)})

	if s.deps.Snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Snapshots.Insert(ctx, &models.SnapshotRecord{SessionID: sessionID, Seq: seq, Snapshot: snap}); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("emotion snapshot insert failed")
	}
}

func (s *InterviewManager) publish(sessionID, typ string, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.deps.Broker.Publish(ctx, events.StatusChannel(sessionID), events.Event{Type: typ, SessionID: sessionID, Data: data})
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Debug("event publish failed")
	}
}

func (s *InterviewManager) saveResult(ctx context.Context, v interview.View, res *interview.Result) {
	if s.deps.Results == nil {
		return
	}
	row, err := resultRow(v, res)
	if err == nil {
		err = s.deps.Results.Save(ctx, row)
	}
	if err != nil {
		s.log.WithError(err).WithField("session_id", v.ID).Error("interview result save failed")
	}
}

func resultRow(v interview.View, res *interview.Result) (*models.InterviewResult, error) {
	pairs, err := json.Marshal(res.Pairs)
	if err != nil {
		return nil, err
	}
	emo, err := json.Marshal(res.EmotionSummary)
	if err != nil {
		return nil, err
	}

	row := &models.InterviewResult{
		ID:        uuid.NewString(),
		SessionID: v.ID,
		UserID:    v.UserID,
		Role:      v.Role,
		Questions: v.Questions,
		Pairs:     datatypes.JSON(pairs),
		Summary:   res.Evaluation.Summary,
		Score:     res.Evaluation.Score,
		Emotion:   datatypes.JSON(emo),
		Feedback:  res.Feedback,
		CreatedAt: time.Now().UTC(),
	}
	if v.EndedAt != nil {
		row.CreatedAt = *v.EndedAt
	}
	if res.Recording != nil {
		row.RecordingURL = res.Recording.URL
		row.RecordingObject = res.Recording.ObjectName
	}
	return row, nil
}

func viewFromRecord(rec *models.Session) interview.View {
	v := interview.View{
		ID:        rec.SessionID,
		UserID:    rec.UserID,
		Role:      rec.Role,
		Questions: rec.Questions,
		Answers:   []string{},
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
	}
	switch rec.Status {
	case models.SessionStatusReady:
		v.State = interview.StateReady
	case models.SessionStatusActive:
		v.State = interview.StateInProgress
	case models.SessionStatusFinalizing:
		v.State = interview.StateFinalizing
	case models.SessionStatusCancelled:
		v.State = interview.StateFinished
		v.Cancelled = true
	default:
		v.State = interview.StateFinished
	}
	return v
}

// sessionError maps state machine and media errors to API errors.
func sessionError(op string, err error) error {
	switch {
	case errors.Is(err, interview.ErrEmptyInput):
		return utils.E(utils.CodeUnprocessable, op, "answer must not be empty", err)
	case errors.Is(err, interview.ErrNoPendingQuestion):
		return utils.E(utils.CodePrecondition, op, "all questions have been answered", err)
	case errors.Is(err, interview.ErrNotReady):
		return utils.E(utils.CodePrecondition, op, "interview is not ready to start", err)
	case errors.Is(err, interview.ErrNotInProgress):
		return utils.E(utils.CodePrecondition, op, "interview is not in progress", err)
	case errors.Is(err, interview.ErrAlreadyFinished), errors.Is(err, interview.ErrCancelled):
		return utils.E(utils.CodeConflict, op, "interview already finished", err)
	case errors.Is(err, media.ErrNoSupportedEncoding):
		return utils.E(utils.CodeUnprocessable, op, "browser cannot record in a supported format", err)
	case errors.Is(err, media.ErrDeviceUnavailable), errors.Is(err, media.ErrDeviceDenied):
		return utils.E(utils.CodeUnavailable, op, "camera or microphone is unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return utils.E(utils.CodeTimeout, op, "operation timed out", err)
	default:
		return utils.E(utils.CodeInternal, op, "interview operation failed", err)
	}
}

type fields map[string]any

// noAnalyzer is used when emotion inference is not configured.
type noAnalyzer struct{}

func (noAnalyzer) Analyze(ctx context.Context, frame []byte) (*models.EmotionSnapshot, error) {
	return nil, errors.New("emotion inference is not configured")
}
