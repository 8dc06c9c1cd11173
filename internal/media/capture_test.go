package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu        sync.Mutex
	supported map[string]bool
	chunks    chan []byte
	pending   [][]byte
	recorded  string
	closed    int
	frame     []byte
}

func (s *fakeStream) SupportsEncoding(m string) bool { return s.supported[m] }

func (s *fakeStream) Record(m string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = m
	s.chunks = make(chan []byte, 16)
	return s.chunks, nil
}

func (s *fakeStream) push(b []byte) { s.chunks <- b }

// StopRecording flushes pending chunks as the final events, then closes.
func (s *fakeStream) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks == nil {
		return nil
	}
	for _, p := range s.pending {
		s.chunks <- p
	}
	close(s.chunks)
	s.chunks = nil
	return nil
}

func (s *fakeStream) Frame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeDevice struct {
	stream  *fakeStream
	denials int
	err     error
	opens   int
}

func (d *fakeDevice) Open(ctx context.Context) (Stream, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	if d.opens <= d.denials {
		return nil, ErrDeviceDenied
	}
	return d.stream, nil
}

type memUploader struct {
	name        string
	contentType string
	data        []byte
	err         error
}

func (u *memUploader) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, _ := io.ReadAll(r)
	u.name, u.contentType, u.data = objectName, contentType, b
	return "mem://" + objectName, nil
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func newStream(types ...string) *fakeStream {
	s := &fakeStream{supported: map[string]bool{}}
	for _, t := range types {
		s.supported[t] = true
	}
	return s
}

func TestAcquirePicksFirstSupportedEncoding(t *testing.T) {
	s := newStream("video/webm", "video/webm;codecs=vp8", "video/mp4")
	c := NewCapture(&fakeDevice{stream: s}, &memUploader{}, Options{Retry: fastRetry()})

	require.NoError(t, c.Acquire(context.Background()))
	assert.Equal(t, "video/webm;codecs=vp8", c.MimeType())
}

func TestAcquireNoSupportedEncoding(t *testing.T) {
	s := newStream("video/x-matroska")
	dev := &fakeDevice{stream: s}
	c := NewCapture(dev, &memUploader{}, Options{Retry: fastRetry()})

	err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoSupportedEncoding)
	assert.Equal(t, 1, dev.opens)
	assert.Equal(t, 1, s.closed)
}

func TestAcquireRetriesDenialThenSucceeds(t *testing.T) {
	dev := &fakeDevice{stream: newStream("video/webm"), denials: 3}
	c := NewCapture(dev, &memUploader{}, Options{Retry: fastRetry()})

	require.NoError(t, c.Acquire(context.Background()))
	assert.Equal(t, 4, dev.opens)
}

func TestAcquireDeniedFiveTimesIsUnavailable(t *testing.T) {
	dev := &fakeDevice{stream: newStream("video/webm"), denials: 100}
	c := NewCapture(dev, &memUploader{}, Options{Retry: fastRetry()})

	err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, err, ErrDeviceDenied)
	assert.Equal(t, 5, dev.opens)
}

func TestAcquireOtherFailureIsNotRetried(t *testing.T) {
	dev := &fakeDevice{err: errors.New("no camera")}
	c := NewCapture(dev, &memUploader{}, Options{Retry: fastRetry()})

	err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, 1, dev.opens)
}

func TestStartRequiresAcquire(t *testing.T) {
	c := NewCapture(&fakeDevice{stream: newStream("video/webm")}, &memUploader{}, Options{})
	assert.ErrorIs(t, c.Start(context.Background()), ErrNotAcquired)
}

func TestStopConcatenatesChunksInOrder(t *testing.T) {
	s := newStream("video/webm;codecs=vp9")
	s.pending = [][]byte{[]byte("-final")}
	up := &memUploader{}
	c := NewCapture(&fakeDevice{stream: s}, up, Options{Retry: fastRetry(), ObjectPrefix: "recordings/s1"})

	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, RecorderRecording, c.State())

	s.push([]byte("one"))
	s.push([]byte{})
	s.push([]byte("-two"))

	rec, err := c.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "one-two-final", string(up.data))
	assert.Equal(t, "video/webm", up.contentType)
	assert.Equal(t, 3, rec.Chunks)
	assert.Equal(t, int64(len("one-two-final")), rec.SizeBytes)
	assert.Equal(t, "mem://"+rec.ObjectName, rec.URL)
	assert.True(t, bytes.HasPrefix([]byte(rec.ObjectName), []byte("recordings/s1/")))
	assert.Equal(t, 1, s.closed)
	assert.Equal(t, RecorderInactive, c.State())
}

func TestStopWithoutStartReleasesStream(t *testing.T) {
	s := newStream("video/webm")
	c := NewCapture(&fakeDevice{stream: s}, &memUploader{}, Options{Retry: fastRetry()})

	require.NoError(t, c.Acquire(context.Background()))

	rec, err := c.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, s.closed)

	rec, err = c.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, s.closed)
}

func TestStopNeverAcquired(t *testing.T) {
	c := NewCapture(&fakeDevice{}, nil, Options{})
	rec, err := c.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStopEmptyRecordingSkipsUpload(t *testing.T) {
	s := newStream("video/webm")
	up := &memUploader{}
	c := NewCapture(&fakeDevice{stream: s}, up, Options{Retry: fastRetry()})

	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Start(ctx))

	rec, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Chunks)
	assert.Empty(t, rec.URL)
	assert.Empty(t, up.name)
	assert.Equal(t, 1, s.closed)
}

func TestStopBoundedWhenFinalChunkNeverArrives(t *testing.T) {
	s := &stuckStream{fakeStream: newStream("video/webm")}
	up := &memUploader{}
	c := NewCapture(&fakeDevice{stream: s.fakeStream}, up, Options{Retry: fastRetry(), FinalizeTimeout: 20 * time.Millisecond})
	c.dev = deviceFunc(func(ctx context.Context) (Stream, error) { return s, nil })

	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Start(ctx))
	s.push([]byte("partial"))

	time.Sleep(5 * time.Millisecond)
	rec, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(up.data))
	assert.Equal(t, 1, rec.Chunks)
}

func TestStopUploadFailureStillReleases(t *testing.T) {
	s := newStream("video/webm")
	c := NewCapture(&fakeDevice{stream: s}, &memUploader{err: errors.New("bucket down")}, Options{Retry: fastRetry()})

	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Start(ctx))
	s.push([]byte("x"))

	_, err := c.Stop(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, s.closed)
}

func TestStopUploadsAfterCallerCancelled(t *testing.T) {
	s := newStream("video/webm")
	up := &memUploader{}
	c := NewCapture(&fakeDevice{stream: s}, up, Options{Retry: fastRetry()})

	require.NoError(t, c.Acquire(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	s.push([]byte("answer"))
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.rec.chunks) == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := c.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "answer", string(up.data))
	assert.Equal(t, "mem://"+rec.ObjectName, rec.URL)
	assert.Equal(t, 1, s.closed)
}

func TestFrameAfterReleaseReturnsCachedFrame(t *testing.T) {
	s := newStream("video/webm")
	s.frame = []byte("jpeg")
	c := NewCapture(&fakeDevice{stream: s}, &memUploader{}, Options{Retry: fastRetry()})

	_, err := c.Frame(context.Background())
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, c.Acquire(context.Background()))
	c.Release()

	f, err := c.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(f))
}

// stuckStream never closes its chunk channel on stop.
type stuckStream struct{ *fakeStream }

func (s *stuckStream) StopRecording() error { return nil }

type deviceFunc func(ctx context.Context) (Stream, error)

func (f deviceFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }
