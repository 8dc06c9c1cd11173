package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []ControlMessage
	on   func(ControlMessage)
}

func (t *recordingTransport) Send(msg ControlMessage) error {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	on := t.on
	t.mu.Unlock()
	if on != nil {
		go on(msg)
	}
	return nil
}

func (t *recordingTransport) types() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sent))
	for _, m := range t.sent {
		out = append(out, m.Type)
	}
	return out
}

func TestRemoteDeviceFullCycle(t *testing.T) {
	dev := NewRemoteDevice(time.Second)
	tr := &recordingTransport{}
	tr.on = func(msg ControlMessage) {
		switch msg.Type {
		case CmdAcquire:
			dev.HandlePermission(true, []string{"video/webm", "video/mp4"})
		case CmdRecordStop:
			dev.HandleChunk([]byte("tail"), true)
		}
	}
	dev.Attach(tr)
	dev.HandleFrame([]byte("frame-1"))

	up := &memUploader{}
	c := NewCapture(dev, up, Options{Retry: fastRetry()})
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx))
	assert.Equal(t, "video/webm", c.MimeType())

	require.NoError(t, c.Start(ctx))
	dev.HandleChunk([]byte("head-"), false)

	f, err := c.Frame(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame-1", string(f))

	rec, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "head-tail", string(up.data))
	assert.Equal(t, 2, rec.Chunks)
	assert.Equal(t, []string{CmdAcquire, CmdRecordStart, CmdRecordStop, CmdRelease}, tr.types())
}

func TestRemoteDeviceDenied(t *testing.T) {
	dev := NewRemoteDevice(time.Second)
	tr := &recordingTransport{}
	tr.on = func(msg ControlMessage) {
		if msg.Type == CmdAcquire {
			dev.HandlePermission(false, nil)
		}
	}
	dev.Attach(tr)

	_, err := dev.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceDenied)
}

func TestRemoteDeviceOpenWithoutAgentTimesOut(t *testing.T) {
	dev := NewRemoteDevice(10 * time.Millisecond)
	_, err := dev.Open(context.Background())
	assert.ErrorIs(t, err, errAgentNotConnected)
}

func TestRemoteDeviceDetachEndsRecording(t *testing.T) {
	dev := NewRemoteDevice(time.Second)
	tr := &recordingTransport{}
	tr.on = func(msg ControlMessage) {
		if msg.Type == CmdAcquire {
			dev.HandlePermission(true, []string{"video/webm"})
		}
	}
	dev.Attach(tr)

	s, err := dev.Open(context.Background())
	require.NoError(t, err)
	ch, err := s.Record("video/webm")
	require.NoError(t, err)

	dev.HandleChunk([]byte("a"), false)
	dev.Detach(tr)

	var got []string
	for b := range ch {
		got = append(got, string(b))
	}
	assert.Equal(t, []string{"a"}, got)
	assert.NoError(t, s.Close())
}

func TestRemoteDeviceDetachForgetsFrame(t *testing.T) {
	dev := NewRemoteDevice(time.Second)
	tr := &recordingTransport{}
	tr.on = func(msg ControlMessage) {
		if msg.Type == CmdAcquire {
			dev.HandlePermission(true, []string{"video/webm"})
		}
	}
	dev.Attach(tr)
	assert.True(t, dev.Attached())

	s, err := dev.Open(context.Background())
	require.NoError(t, err)
	dev.HandleFrame([]byte("jpeg"))

	_, err = s.Frame(context.Background())
	require.NoError(t, err)

	dev.Detach(tr)
	assert.False(t, dev.Attached())
	_, err = s.Frame(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestRemoteDeviceChunkOverflowDoesNotBlock(t *testing.T) {
	dev := NewRemoteDevice(time.Second)
	tr := &recordingTransport{}
	tr.on = func(msg ControlMessage) {
		if msg.Type == CmdAcquire {
			dev.HandlePermission(true, []string{"video/webm"})
		}
	}
	dev.Attach(tr)

	s, err := dev.Open(context.Background())
	require.NoError(t, err)
	ch, err := s.Record("video/webm")
	require.NoError(t, err)

	// nobody drains ch
	for i := 0; i < chunkBuffer; i++ {
		require.NoError(t, dev.HandleChunk([]byte("x"), false))
	}
	assert.ErrorIs(t, dev.HandleChunk([]byte("y"), false), ErrChunkOverflow)

	done := make(chan struct{})
	go func() {
		dev.HandleFrame([]byte("jpeg"))
		dev.Detach(tr)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("device blocked on a full recording buffer")
	}
	assert.Len(t, ch, chunkBuffer)
}
