package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/mockmate/internal/models"
	"github.com/yoockh/mockmate/internal/storage"
)

type Options struct {
	Encodings       []string
	Retry           *RetryPolicy
	ObjectPrefix    string        // e.g. "recordings/<session_id>"
	FinalizeTimeout time.Duration // bound on waiting for the final chunk
	UploadTimeout   time.Duration // bound on storing the finished recording
	Logger          *logrus.Entry
}

// Capture owns one device stream and its recorder for the lifetime of a session.
type Capture struct {
	dev      Device
	uploader storage.Uploader
	opts     Options
	log      *logrus.Entry

	mu        sync.Mutex
	stream    Stream
	mimeType  string
	state     RecorderState
	rec       *recordingBuffer
	lastFrame []byte
}

type recordingBuffer struct {
	chunks  [][]byte
	drained chan struct{}
}

func NewCapture(dev Device, uploader storage.Uploader, opts Options) *Capture {
	if len(opts.Encodings) == 0 {
		opts.Encodings = DefaultEncodings
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.ObjectPrefix == "" {
		opts.ObjectPrefix = "recordings"
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 10 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 2 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Capture{
		dev:      dev,
		uploader: uploader,
		opts:     opts,
		log:      log.WithField("component", "media"),
		state:    RecorderInactive,
	}
}

// Acquire opens the device and negotiates a recording encoding. Denied
// permission is retried per the retry policy before ErrDeviceUnavailable is
// returned. Acquiring an already acquired capture is a no-op.
func (c *Capture) Acquire(ctx context.Context) error {
	c.mu.Lock()
	held := c.stream != nil
	c.mu.Unlock()
	if held {
		return nil
	}

	attempts, err := c.opts.Retry.Execute(ctx, func(err error) bool {
		return errors.Is(err, ErrDeviceDenied)
	}, func() error {
		return c.open(ctx)
	})
	if err == nil {
		return nil
	}

	c.log.WithError(err).WithField("attempts", attempts).Warn("device acquisition failed")
	if errors.Is(err, ErrNoSupportedEncoding) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

func (c *Capture) open(ctx context.Context) error {
	s, err := c.dev.Open(ctx)
	if err != nil {
		return err
	}

	mimeType := ""
	for _, enc := range c.opts.Encodings {
		if s.SupportsEncoding(enc) {
			mimeType = enc
			break
		}
	}
	if mimeType == "" {
		_ = s.Close()
		return ErrNoSupportedEncoding
	}

	c.mu.Lock()
	c.stream = s
	c.mimeType = mimeType
	c.state = RecorderInactive
	c.mu.Unlock()

	c.log.WithField("mime_type", mimeType).Info("device acquired")
	return nil
}

// MimeType is the negotiated encoding, empty before Acquire.
func (c *Capture) MimeType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mimeType
}

func (c *Capture) State() RecorderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins buffering encoded chunks in arrival order.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNotAcquired
	}
	if c.state == RecorderRecording {
		return nil
	}

	ch, err := c.stream.Record(c.mimeType)
	if err != nil {
		return fmt.Errorf("media: start recorder: %w", err)
	}

	rec := &recordingBuffer{drained: make(chan struct{})}
	c.rec = rec
	c.state = RecorderRecording
	go c.collect(ch, rec)
	return nil
}

func (c *Capture) collect(ch <-chan []byte, rec *recordingBuffer) {
	defer close(rec.drained)
	for b := range ch {
		if len(b) == 0 {
			continue
		}
		c.mu.Lock()
		rec.chunks = append(rec.chunks, b)
		c.mu.Unlock()
	}
}

// Stop finalizes the recorder, stores the concatenated recording and releases
// the stream. When nothing is recording it only releases the stream and
// returns a nil recording.
func (c *Capture) Stop(ctx context.Context) (*models.Recording, error) {
	c.mu.Lock()
	if c.state != RecorderRecording {
		c.mu.Unlock()
		c.Release()
		return nil, nil
	}
	stream, rec, mimeType := c.stream, c.rec, c.mimeType
	c.state = RecorderStopped
	c.mu.Unlock()

	defer c.Release()

	if err := stream.StopRecording(); err != nil {
		c.log.WithError(err).Warn("recorder stop signal failed")
	}

	t := time.NewTimer(c.opts.FinalizeTimeout)
	select {
	case <-rec.drained:
		t.Stop()
	case <-t.C:
		c.log.Warn("final chunk did not arrive in time; finalizing with buffered chunks")
	case <-ctx.Done():
		t.Stop()
		c.log.WithError(ctx.Err()).Warn("finalize interrupted; finalizing with buffered chunks")
	}

	c.mu.Lock()
	chunks := rec.chunks
	rec.chunks = nil
	c.mu.Unlock()

	out := &models.Recording{MimeType: mimeType, Chunks: len(chunks)}
	data := bytes.Join(chunks, nil)
	out.SizeBytes = int64(len(data))
	if len(data) == 0 {
		return out, nil
	}
	if c.uploader == nil {
		return nil, errors.New("media: recording uploader is not configured")
	}

	// the recording is kept even when the caller has gone away
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.UploadTimeout)
	defer cancel()

	objectName := c.opts.ObjectPrefix + "/" + uuid.NewString() + extensionFor(mimeType)
	url, err := c.uploader.Upload(uctx, objectName, containerType(mimeType), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: store recording: %w", err)
	}
	out.URL = url
	out.ObjectName = objectName

	c.log.WithFields(logrus.Fields{
		"object": objectName,
		"bytes":  out.SizeBytes,
		"chunks": out.Chunks,
	}).Info("recording stored")
	return out, nil
}

// Release stops every track of the held stream without finalizing a recording.
// A final frame is cached first so late frame reads still see the end state.
func (c *Capture) Release() {
	c.mu.Lock()
	stream := c.stream
	recording := c.state == RecorderRecording
	c.stream = nil
	c.state = RecorderInactive
	c.mu.Unlock()

	if stream == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	if frame, err := stream.Frame(ctx); err == nil {
		c.mu.Lock()
		c.lastFrame = frame
		c.mu.Unlock()
	}
	cancel()

	if recording {
		_ = stream.StopRecording()
	}
	if err := stream.Close(); err != nil {
		c.log.WithError(err).Warn("stream close failed")
	}
	c.log.Info("device released")
}

// Frame returns the live frame of the held stream. After release it returns
// the frame cached at release time, if any.
func (c *Capture) Frame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	stream := c.stream
	last := c.lastFrame
	c.mu.Unlock()

	if stream == nil {
		if last != nil {
			return last, nil
		}
		return nil, ErrNotAcquired
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lastFrame = frame
	c.mu.Unlock()
	return frame, nil
}
