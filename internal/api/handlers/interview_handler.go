package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/mockmate/internal/services"
	"github.com/yoockh/mockmate/internal/utils"
)

type InterviewHandler struct {
	svc           services.InterviewService
	maxAudioBytes int64
}

func NewInterviewHandler(svc services.InterviewService, maxAudioBytes int64) *InterviewHandler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = 10 << 20
	}
	return &InterviewHandler{svc: svc, maxAudioBytes: maxAudioBytes}
}

type CreateInterviewRequest struct {
	Role string `json:"role" binding:"required"` // job description
}

type AnswerRequest struct {
	Text string `json:"text"`
}

func (h *InterviewHandler) Create(c *gin.Context) {
	creds, ok := requireCredentials(c)
	if !ok {
		return
	}

	var req CreateInterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.Create", "invalid request body", err))
		return
	}

	v, err := h.svc.Create(c.Request.Context(), creds, req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *InterviewHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	v, err := h.svc.Get(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *InterviewHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	v, err := h.svc.Start(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *InterviewHandler) Answer(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.Answer", "invalid request body", err))
		return
	}

	v, err := h.svc.SubmitAnswer(c.Request.Context(), userID, c.Param("session_id"), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *InterviewHandler) AnswerAudio(c *gin.Context) {
	const op = "InterviewHandler.AnswerAudio"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "audio file is required", err))
		return
	}
	if fh.Size > h.maxAudioBytes {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "audio is too large", nil))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unreadable audio file", err))
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(io.LimitReader(f, h.maxAudioBytes))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unreadable audio file", err))
		return
	}

	jobID, err := h.svc.QueueAudioAnswer(c.Request.Context(), userID, c.Param("session_id"), c.PostForm("language"), audio)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "queued"})
}

func (h *InterviewHandler) QuestionAudio(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	audio, contentType, err := h.svc.QuestionAudio(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer audio.Close()

	c.DataFromReader(http.StatusOK, -1, contentType, audio, nil)
}

func (h *InterviewHandler) Finish(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	res, err := h.svc.Finish(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *InterviewHandler) Cancel(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if err := h.svc.Cancel(c.Request.Context(), userID, c.Param("session_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *InterviewHandler) Result(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	row, err := h.svc.Result(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}
