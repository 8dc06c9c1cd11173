package media

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Control message types sent to the capture agent running in the browser.
const (
	CmdAcquire     = "acquire"
	CmdRecordStart = "record_start"
	CmdRecordStop  = "record_stop"
	CmdRelease     = "release"
)

type ControlMessage struct {
	Type     string `json:"type"`
	MimeType string `json:"mime_type,omitempty"`
}

// Transport delivers control messages to the connected capture agent.
type Transport interface {
	Send(msg ControlMessage) error
}

type permissionReply struct {
	granted   bool
	encodings []string
}

var errAgentNotConnected = errors.New("media: capture agent not connected")

// ErrChunkOverflow means the recorder buffer was full and a chunk was dropped.
var ErrChunkOverflow = errors.New("media: recording buffer full, chunk dropped")

// RemoteDevice is a Device whose camera and microphone live in a browser tab
// connected over the session websocket. The agent answers permission prompts,
// pushes recorder chunks and pushes its latest still frame.
type RemoteDevice struct {
	openTimeout time.Duration

	mu         sync.Mutex
	transport  Transport
	connected  chan struct{}
	permission chan permissionReply
	stream     *remoteStream
	lastFrame  []byte
}

func NewRemoteDevice(openTimeout time.Duration) *RemoteDevice {
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &RemoteDevice{
		openTimeout: openTimeout,
		connected:   make(chan struct{}),
		permission:  make(chan permissionReply, 1),
	}
}

// Attach binds the agent connection. A later Attach replaces the previous one.
func (d *RemoteDevice) Attach(t Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transport = t
	select {
	case <-d.connected:
	default:
		close(d.connected)
	}
}

// Detach drops the agent connection, ends any open recording and forgets the
// last frame so nothing stale is analyzed while the agent is away.
func (d *RemoteDevice) Detach(t Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport != t {
		return
	}
	d.transport = nil
	d.connected = make(chan struct{})
	d.lastFrame = nil
	if d.stream != nil {
		d.stream.endRecordingLocked()
	}
}

// Attached reports whether a capture agent is connected.
func (d *RemoteDevice) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport != nil
}

func (d *RemoteDevice) send(msg ControlMessage) error {
	d.mu.Lock()
	t := d.transport
	d.mu.Unlock()
	if t == nil {
		return errAgentNotConnected
	}
	return t.Send(msg)
}

func (d *RemoteDevice) Open(ctx context.Context) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, d.openTimeout)
	defer cancel()

	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()

	select {
	case <-connected:
	case <-ctx.Done():
		return nil, errAgentNotConnected
	}

	// drop a stale reply from an earlier prompt
	select {
	case <-d.permission:
	default:
	}

	if err := d.send(ControlMessage{Type: CmdAcquire}); err != nil {
		return nil, err
	}

	var reply permissionReply
	select {
	case reply = <-d.permission:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !reply.granted {
		return nil, ErrDeviceDenied
	}

	s := &remoteStream{dev: d, encodings: map[string]struct{}{}}
	for _, e := range reply.encodings {
		s.encodings[e] = struct{}{}
	}

	d.mu.Lock()
	d.stream = s
	d.mu.Unlock()
	return s, nil
}

// HandlePermission records the agent's answer to an acquire prompt.
func (d *RemoteDevice) HandlePermission(granted bool, encodings []string) {
	select {
	case d.permission <- permissionReply{granted: granted, encodings: encodings}:
	default:
	}
}

// HandleChunk appends a recorder chunk; final closes the recording. It never
// blocks: when the buffer is full the chunk is dropped and ErrChunkOverflow
// returned.
func (d *RemoteDevice) HandleChunk(data []byte, final bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stream
	if s == nil || s.chunks == nil {
		return nil
	}
	var err error
	if len(data) > 0 {
		select {
		case s.chunks <- data:
		default:
			err = ErrChunkOverflow
		}
	}
	if final {
		s.endRecordingLocked()
	}
	return err
}

// HandleFrame stores the agent's latest still frame.
func (d *RemoteDevice) HandleFrame(jpeg []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFrame = jpeg
}

const chunkBuffer = 256

type remoteStream struct {
	dev       *RemoteDevice
	encodings map[string]struct{}

	// guarded by dev.mu
	chunks chan []byte
	closed bool
}

func (s *remoteStream) SupportsEncoding(mimeType string) bool {
	_, ok := s.encodings[mimeType]
	return ok
}

func (s *remoteStream) Record(mimeType string) (<-chan []byte, error) {
	s.dev.mu.Lock()
	if s.closed {
		s.dev.mu.Unlock()
		return nil, ErrStreamClosed
	}
	ch := make(chan []byte, chunkBuffer)
	s.chunks = ch
	s.dev.mu.Unlock()

	if err := s.dev.send(ControlMessage{Type: CmdRecordStart, MimeType: mimeType}); err != nil {
		s.dev.mu.Lock()
		s.endRecordingLocked()
		s.dev.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (s *remoteStream) StopRecording() error {
	return s.dev.send(ControlMessage{Type: CmdRecordStop})
}

func (s *remoteStream) endRecordingLocked() {
	if s.chunks != nil {
		close(s.chunks)
		s.chunks = nil
	}
}

func (s *remoteStream) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.dev.lastFrame == nil {
		return nil, ErrNoFrame
	}
	return s.dev.lastFrame, nil
}

func (s *remoteStream) Close() error {
	s.dev.mu.Lock()
	if s.closed {
		s.dev.mu.Unlock()
		return nil
	}
	s.closed = true
	s.endRecordingLocked()
	if s.dev.stream == s {
		s.dev.stream = nil
		s.dev.lastFrame = nil
	}
	s.dev.mu.Unlock()

	err := s.dev.send(ControlMessage{Type: CmdRelease})
	if errors.Is(err, errAgentNotConnected) {
		return nil
	}
	return err
}
