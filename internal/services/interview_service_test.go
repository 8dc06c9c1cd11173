package services

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/mockmate/internal/emotion"
	"github.com/yoockh/mockmate/internal/events"
	"github.com/yoockh/mockmate/internal/interview"
	"github.com/yoockh/mockmate/internal/media"
	"github.com/yoockh/mockmate/internal/models"
	"github.com/yoockh/mockmate/internal/utils"
)

// agent plays the browser side of the device bridge.
type agent struct {
	dev  *media.RemoteDevice
	deny bool

	mu   sync.Mutex
	sent []string
}

func (a *agent) Send(msg media.ControlMessage) error {
	a.mu.Lock()
	a.sent = append(a.sent, msg.Type)
	a.mu.Unlock()

	switch msg.Type {
	case media.CmdAcquire:
		a.dev.HandleFrame([]byte("jpeg"))
		a.dev.HandlePermission(!a.deny, []string{"video/webm"})
	case media.CmdRecordStart:
		a.dev.HandleChunk([]byte("chunk-1"), false)
	case media.CmdRecordStop:
		a.dev.HandleChunk([]byte("-last"), true)
	}
	return nil
}

type memStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memStore) Upload(ctx context.Context, name, ct string, r io.Reader) (string, error) {
	b, _ := io.ReadAll(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objs == nil {
		m.objs = map[string][]byte{}
	}
	m.objs[name] = b
	return "mem://" + name, nil
}

type stubGateway struct{ questions []string }

func (g stubGateway) GenerateQuestions(ctx context.Context, role string) []string { return g.questions }

func (g stubGateway) Evaluate(ctx context.Context, pairs []models.QAPair, role string) (models.Evaluation, error) {
	return models.Evaluation{Summary: "Clear and structured.", Score: float64(30 * len(pairs))}, nil
}

type presentAnalyzer struct{}

func (presentAnalyzer) Analyze(ctx context.Context, frame []byte) (*models.EmotionSnapshot, error) {
	return &models.EmotionSnapshot{CandidatePresent: true, IsConfident: true, FocusScore: 0.8, EmotionScores: map[string]float64{"neutral": 1}}, nil
}

type recordingQueue struct{ jobs []AnswerJob }

func (q *recordingQueue) Enqueue(ctx context.Context, job AnswerJob) (string, error) {
	q.jobs = append(q.jobs, job)
	return "1-0", nil
}

func newTestManager(questions ...string) (*InterviewManager, *memStore, *events.MemoryBroker) {
	store := &memStore{}
	broker := events.NewMemoryBroker()
	m := NewInterviewService(InterviewConfig{
		SampleInterval:    5 * time.Millisecond,
		DeviceOpenTimeout: time.Second,
		FinalizeTimeout:   time.Second,
		DeviceRetry:       &media.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond},
	}, InterviewDeps{
		Gateway:     stubGateway{questions: questions},
		Uploader:    store,
		NewAnalyzer: func(models.Credentials) emotion.Analyzer { return presentAnalyzer{} },
		Broker:      broker,
	})
	return m, store, broker
}

func attach(t *testing.T, m *InterviewManager, userID, sessionID string, deny bool) *agent {
	t.Helper()
	dev, err := m.Device(userID, sessionID)
	require.NoError(t, err)
	a := &agent{dev: dev, deny: deny}
	dev.Attach(a)
	return a
}

func TestInterviewLifecycle(t *testing.T) {
	m, store, broker := newTestManager("Explain goroutines.", "What is backpressure?")
	ctx := context.Background()
	creds := models.Credentials{UserID: "u1", Token: "t"}

	v, err := m.Create(ctx, creds, "Backend Engineer")
	require.NoError(t, err)
	assert.Equal(t, interview.StateReady, v.State)
	assert.Len(t, v.Questions, 2)

	sub, unsubscribe, err := broker.Subscribe(ctx, events.StatusChannel(v.ID))
	require.NoError(t, err)
	defer unsubscribe()

	a := attach(t, m, "u1", v.ID, false)

	v, err = m.Start(ctx, "u1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, interview.StateInProgress, v.State)

	_, err = m.SubmitAnswer(ctx, "u1", v.ID, "   ")
	assert.True(t, utils.IsCode(err, utils.CodeUnprocessable))

	_, err = m.SubmitAnswer(ctx, "u1", v.ID, "Green threads on the Go runtime.")
	require.NoError(t, err)
	_, err = m.SubmitAnswer(ctx, "u1", v.ID, "Slowing producers to match consumers.")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	res, err := m.Finish(ctx, "u1", v.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Recording)
	assert.Equal(t, "chunk-1-last", string(store.objs[res.Recording.ObjectName]))
	assert.Len(t, res.Pairs, 2)
	assert.Equal(t, 60.0, res.Evaluation.Score)
	assert.True(t, res.EmotionSummary.CandidatePresent)

	a.mu.Lock()
	assert.Equal(t, []string{media.CmdAcquire, media.CmdRecordStart, media.CmdRecordStop, media.CmdRelease}, a.sent)
	a.mu.Unlock()

	_, err = m.Finish(ctx, "u1", v.ID)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	row, err := m.Result(ctx, "u1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, 60.0, row.Score)
	assert.Equal(t, res.Recording.URL, row.RecordingURL)
	var pairs []models.QAPair
	require.NoError(t, json.Unmarshal(row.Pairs, &pairs))
	assert.Equal(t, "Explain goroutines.", pairs[0].Question)

	var sawEmotion, sawFinished bool
	for !(sawEmotion && sawFinished) {
		select {
		case raw := <-sub:
			var ev events.Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			switch ev.Type {
			case events.TypeEmotion:
				sawEmotion = true
			case events.TypeState:
				if d, ok := ev.Data.(map[string]any); ok && d["state"] == string(interview.StateFinished) {
					sawFinished = true
				}
			}
		case <-time.After(time.Second):
			t.Fatalf("missing events: emotion=%v finished=%v", sawEmotion, sawFinished)
		}
	}
}

func TestStartDeniedLeavesSessionReady(t *testing.T) {
	m, _, _ := newTestManager("q1")
	ctx := context.Background()

	v, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "QA Engineer")
	require.NoError(t, err)
	attach(t, m, "u1", v.ID, true)

	_, err = m.Start(ctx, "u1", v.ID)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))

	v, err = m.Get(ctx, "u1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, interview.StateReady, v.State)
}

func TestOtherUserIsForbidden(t *testing.T) {
	m, _, _ := newTestManager("q1")
	v, err := m.Create(context.Background(), models.Credentials{UserID: "owner"}, "SRE")
	require.NoError(t, err)

	_, err = m.Get(context.Background(), "intruder", v.ID)
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	_, err = m.Device("intruder", v.ID)
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))
}

func TestCreateValidates(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.Create(context.Background(), models.Credentials{UserID: "u"}, "  ")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = m.Create(context.Background(), models.Credentials{}, "SRE")
	assert.True(t, utils.IsCode(err, utils.CodeUnauthorized))
}

func TestCreateDegradedCarriesWarning(t *testing.T) {
	m, _, _ := newTestManager()
	v, err := m.Create(context.Background(), models.Credentials{UserID: "u"}, "SRE")
	require.NoError(t, err)
	assert.Equal(t, interview.StateReady, v.State)
	assert.Equal(t, interview.DegradedWarning, v.Warning)
}

func TestCancelReleasesAndReaps(t *testing.T) {
	m, _, _ := newTestManager("q1")
	ctx := context.Background()
	v, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "SRE")
	require.NoError(t, err)
	a := attach(t, m, "u1", v.ID, false)
	_, err = m.Start(ctx, "u1", v.ID)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, "u1", v.ID))
	v, err = m.Get(ctx, "u1", v.ID)
	require.NoError(t, err)
	assert.True(t, v.Cancelled)
	a.mu.Lock()
	assert.Contains(t, a.sent, media.CmdRelease)
	a.mu.Unlock()

	_, err = m.Result(ctx, "u1", v.ID)
	assert.True(t, utils.IsCode(err, utils.CodePrecondition))

	assert.Equal(t, 0, m.Reap(time.Now()))
	assert.Equal(t, 1, m.Reap(time.Now().Add(time.Hour)))
	_, err = m.Get(ctx, "u1", v.ID)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestQueueAudioAnswer(t *testing.T) {
	m, _, _ := newTestManager("q1")
	q := &recordingQueue{}
	m.deps.Queue = q
	ctx := context.Background()

	v, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "SRE")
	require.NoError(t, err)

	_, err = m.QueueAudioAnswer(ctx, "u1", v.ID, "en-US", []byte("ogg"))
	assert.True(t, utils.IsCode(err, utils.CodePrecondition))

	attach(t, m, "u1", v.ID, false)
	_, err = m.Start(ctx, "u1", v.ID)
	require.NoError(t, err)

	id, err := m.QueueAudioAnswer(ctx, "u1", v.ID, "en-US", []byte("ogg"))
	require.NoError(t, err)
	assert.Equal(t, "1-0", id)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, v.ID, q.jobs[0].SessionID)

	require.NoError(t, m.ApplyTranscript(ctx, v.ID, " I would add retries. "))
	v, _ = m.Get(ctx, "u1", v.ID)
	assert.Equal(t, []string{"I would add retries."}, v.Answers)

	err = m.ApplyTranscript(ctx, v.ID, "extra")
	assert.True(t, utils.IsCode(err, utils.CodePrecondition))
	m.Shutdown(ctx)
}

func TestQuestionAudioDisabled(t *testing.T) {
	m, _, _ := newTestManager("q1")
	_, _, err := m.QuestionAudio(context.Background(), "u1", "any")
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

func TestAgentLossCancelsAfterGrace(t *testing.T) {
	m, _, _ := newTestManager("q1")
	m.cfg.AgentGrace = 20 * time.Millisecond
	ctx := context.Background()

	v, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "SRE")
	require.NoError(t, err)
	a := attach(t, m, "u1", v.ID, false)
	_, err = m.Start(ctx, "u1", v.ID)
	require.NoError(t, err)

	a.dev.Detach(a)
	m.AgentDetached(v.ID)

	require.Eventually(t, func() bool {
		got, err := m.Get(ctx, "u1", v.ID)
		return err == nil && got.State == interview.StateFinished && got.Cancelled
	}, time.Second, 5*time.Millisecond)
}

func TestAgentReconnectWithinGraceKeepsSession(t *testing.T) {
	m, _, _ := newTestManager("q1")
	m.cfg.AgentGrace = 30 * time.Millisecond
	ctx := context.Background()

	v, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "SRE")
	require.NoError(t, err)
	a := attach(t, m, "u1", v.ID, false)
	_, err = m.Start(ctx, "u1", v.ID)
	require.NoError(t, err)

	a.dev.Detach(a)
	m.AgentDetached(v.ID)
	a.dev.Attach(a)

	time.Sleep(80 * time.Millisecond)
	got, err := m.Get(ctx, "u1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, interview.StateInProgress, got.State)
	assert.False(t, got.Cancelled)
	m.Shutdown(ctx)
}

func TestReapCancelsAbandonedSessions(t *testing.T) {
	m, _, _ := newTestManager("q1")
	ctx := context.Background()

	ready, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "SRE")
	require.NoError(t, err)
	running, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "SRE")
	require.NoError(t, err)
	a := attach(t, m, "u1", running.ID, false)
	_, err = m.Start(ctx, "u1", running.ID)
	require.NoError(t, err)
	a.dev.Detach(a)

	attached, err := m.Create(ctx, models.Credentials{UserID: "u1"}, "SRE")
	require.NoError(t, err)
	attach(t, m, "u1", attached.ID, false)

	later := time.Now().Add(m.cfg.AbandonAfter + time.Minute)
	assert.Equal(t, 0, m.Reap(later))

	for _, id := range []string{ready.ID, running.ID} {
		got, err := m.Get(ctx, "u1", id)
		require.NoError(t, err)
		assert.Equal(t, interview.StateFinished, got.State)
		assert.True(t, got.Cancelled)
	}
	got, err := m.Get(ctx, "u1", attached.ID)
	require.NoError(t, err)
	assert.Equal(t, interview.StateReady, got.State)

	// cancelled sessions are evicted once their retention window passes
	assert.Equal(t, 2, m.Reap(later.Add(m.cfg.RetainFinished+time.Minute)))
}
