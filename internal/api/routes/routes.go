package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/mockmate/internal/api/handlers"
	"github.com/yoockh/mockmate/internal/api/middleware"
)

type Deps struct {
	Interview *handlers.InterviewHandler
	WS        *handlers.WSHandler
	JWTSecret string

	// RecordingsDir is served under /recordings when recordings are stored locally.
	RecordingsDir string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	if d.RecordingsDir != "" {
		r.Static("/recordings", d.RecordingsDir)
	}

	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.JWTSecret))

	iv := auth.Group("/interview")
	iv.POST("", d.Interview.Create)
	iv.GET("/:session_id", d.Interview.Get)
	iv.POST("/:session_id/start", d.Interview.Start)
	iv.POST("/:session_id/answer", d.Interview.Answer)
	iv.POST("/:session_id/answer/audio", d.Interview.AnswerAudio)
	iv.GET("/:session_id/question/audio", d.Interview.QuestionAudio)
	iv.POST("/:session_id/finish", d.Interview.Finish)
	iv.POST("/:session_id/cancel", d.Interview.Cancel)
	iv.GET("/:session_id/result", d.Interview.Result)

	auth.GET("/ws/interview/:session_id", d.WS.InterviewWS)
}
