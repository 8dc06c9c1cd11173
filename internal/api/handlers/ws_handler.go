package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/mockmate/internal/events"
	"github.com/yoockh/mockmate/internal/media"
	"github.com/yoockh/mockmate/internal/services"
	"github.com/yoockh/mockmate/internal/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

// WSHandler bridges the browser capture agent to the session's RemoteDevice
// and forwards live session events back to it.
type WSHandler struct {
	interviews services.InterviewService
	broker     events.Broker
	log        *logrus.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(interviews services.InterviewService, broker events.Broker, allowedOrigins []string, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	allowed := map[string]bool{}
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WSHandler{
		interviews: interviews,
		broker:     broker,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 || allowed["*"] {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// wsClientMsg is a JSON frame from the agent. Binary frames carry recorder
// chunks and need no envelope.
type wsClientMsg struct {
	Type string `json:"type"`

	// permission
	Granted   bool     `json:"granted"`
	Encodings []string `json:"encodings"`

	// chunk_final, frame, answer_audio (base64)
	Data string `json:"data"`

	// answer
	Text     string `json:"text"`
	Language string `json:"language"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) write(messageType int, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(messageType, b)
}

func (w *wsConn) writeError(code utils.Code, msg string) {
	b, _ := json.Marshal(map[string]any{"type": "error", "code": code, "message": msg})
	_ = w.write(websocket.TextMessage, b)
}

// Send implements media.Transport.
func (w *wsConn) Send(msg media.ControlMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, b)
}

func (h *WSHandler) InterviewWS(c *gin.Context) {
	const op = "WSHandler.InterviewWS"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")

	dev, err := h.interviews.Device(userID, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	sub, unsubscribe, err := h.broker.Subscribe(c.Request.Context(), events.StatusChannel(sessionID))
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "live events unavailable", err))
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response
		return
	}
	defer conn.Close()
	conn.SetReadLimit(16 << 20)

	wc := &wsConn{c: conn}
	defer h.interviews.AgentDetached(sessionID)
	dev.Attach(wc)
	defer dev.Detach(wc)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.log.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID})
	log.Info("capture agent connected")
	defer log.Info("capture agent disconnected")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(ctx, conn, wc, dev, userID, sessionID, log)
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := wc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := wc.write(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, wc *wsConn, dev *media.RemoteDevice, userID, sessionID string, log *logrus.Entry) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if mt == websocket.BinaryMessage {
			if err := dev.HandleChunk(data, false); err != nil {
				log.WithError(err).Warn("recording chunk dropped")
			}
			continue
		}

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.writeError(utils.CodeInvalidArgument, "invalid json")
			continue
		}

		switch msg.Type {
		case "permission":
			dev.HandlePermission(msg.Granted, msg.Encodings)

		case "chunk_final":
			b, err := decodeB64(msg.Data)
			if err != nil {
				wc.writeError(utils.CodeInvalidArgument, "invalid chunk data")
				b = nil
			}
			if err := dev.HandleChunk(b, true); err != nil {
				log.WithError(err).Warn("recording chunk dropped")
			}

		case "frame":
			b, err := decodeB64(msg.Data)
			if err != nil || len(b) == 0 {
				wc.writeError(utils.CodeInvalidArgument, "invalid frame data")
				continue
			}
			dev.HandleFrame(b)

		case "answer":
			if _, err := h.interviews.SubmitAnswer(ctx, userID, sessionID, msg.Text); err != nil {
				wc.writeError(utils.CodeOf(err), errMessage(err))
			}

		case "answer_audio":
			b, err := decodeB64(msg.Data)
			if err != nil || len(b) == 0 {
				wc.writeError(utils.CodeInvalidArgument, "invalid audio data")
				continue
			}
			if _, err := h.interviews.QueueAudioAnswer(ctx, userID, sessionID, msg.Language, b); err != nil {
				wc.writeError(utils.CodeOf(err), errMessage(err))
			}

		case "ping":
			_ = wc.write(websocket.TextMessage, []byte(`{"type":"pong"}`))

		default:
			log.WithField("type", msg.Type).Debug("unknown agent message")
			wc.writeError(utils.CodeInvalidArgument, "unknown message type")
		}
	}
}

// decodeB64 accepts raw base64 or a data: URL.
func decodeB64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			s = s[i+1:]
			break
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

func errMessage(err error) string {
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "request failed"
}
