package emotion

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/mockmate/internal/models"
)

// FrameSource yields the current video frame as a JPEG image.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// Analyzer submits one frame to the emotion inference service.
type Analyzer interface {
	Analyze(ctx context.Context, frame []byte) (*models.EmotionSnapshot, error)
}

type Options struct {
	Interval       time.Duration // tick period, default 1s
	RequestTimeout time.Duration // per submission
	FinalGrace     time.Duration // pause before the closing frame
	FinalTimeout   time.Duration // bound on waiting for the closing submission

	// OnSample observes each accepted sample with its arrival sequence number.
	OnSample func(seq int64, s models.EmotionSnapshot)

	Logger *logrus.Entry
}

// Sampler periodically ships frames for inference and keeps every result in
// arrival order. Submissions are independent; a slow or failed one never
// delays the next tick.
type Sampler struct {
	analyzer Analyzer
	opts     Options
	log      *logrus.Entry

	mu      sync.Mutex
	src     FrameSource
	samples []models.EmotionSnapshot
	stop    chan struct{}
	loop    sync.WaitGroup
	running bool
}

func NewSampler(analyzer Analyzer, opts Options) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.FinalGrace <= 0 {
		opts.FinalGrace = 200 * time.Millisecond
	}
	if opts.FinalTimeout <= 0 {
		opts.FinalTimeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sampler{analyzer: analyzer, opts: opts, log: log.WithField("component", "emotion")}
}

// Begin starts the sampling loop bound to src. Calling Begin while running is a no-op.
func (s *Sampler) Begin(src FrameSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.src = src
	s.stop = make(chan struct{})
	s.running = true

	s.loop.Add(1)
	go s.run(s.stop)
}

func (s *Sampler) run(stop <-chan struct{}) {
	defer s.loop.Done()

	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			go s.submit()
		}
	}
}

// submit captures and ships one frame. Its context is detached from the loop
// so End does not abort requests already in flight.
func (s *Sampler) submit() error {
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()
	if src == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	frame, err := src.Frame(ctx)
	if err != nil {
		s.log.WithError(err).Debug("frame capture skipped")
		return err
	}

	snap, err := s.analyzer.Analyze(ctx, frame)
	if err != nil {
		s.log.WithError(err).Warn("emotion inference failed")
		return err
	}
	s.accept(*snap)
	return nil
}

func (s *Sampler) accept(snap models.EmotionSnapshot) {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.samples = append(s.samples, snap)
	seq := int64(len(s.samples))
	hook := s.opts.OnSample
	s.mu.Unlock()

	if hook != nil {
		hook(seq, snap)
	}
}

// End cancels future ticks, then makes one closing submission after a short
// grace delay and waits for it within FinalTimeout.
func (s *Sampler) End(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.loop.Wait()

	wait, cancel := context.WithTimeout(ctx, s.opts.FinalTimeout)
	defer cancel()

	grace := time.NewTimer(s.opts.FinalGrace)
	select {
	case <-grace.C:
	case <-wait.Done():
		grace.Stop()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.submit()
	}()

	select {
	case <-done:
	case <-wait.Done():
		s.log.Warn("closing emotion sample did not settle in time")
	}
	return nil
}

// Final returns the most recent sample in which the candidate was present, or
// the absent snapshot when there is none.
func (s *Sampler) Final() models.EmotionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LastPresent(s.samples)
}

// Samples returns a copy of every accepted sample in arrival order.
func (s *Sampler) Samples() []models.EmotionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EmotionSnapshot, len(s.samples))
	copy(out, s.samples)
	return out
}

// LastPresent picks the last snapshot with a visible candidate.
func LastPresent(samples []models.EmotionSnapshot) models.EmotionSnapshot {
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].CandidatePresent {
			return samples[i]
		}
	}
	return models.AbsentSnapshot()
}
