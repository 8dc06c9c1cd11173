package workers

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/mockmate/internal/providers/stt"
	"github.com/yoockh/mockmate/internal/services"
)

const DefaultAnswerStream = "answer:stream"

// AnswerQueue appends voice answers to a Redis stream.
type AnswerQueue struct {
	Redis  *redis.Client
	Stream string
	MaxLen int64
}

func (q *AnswerQueue) stream() string {
	if q.Stream == "" {
		return DefaultAnswerStream
	}
	return q.Stream
}

func (q *AnswerQueue) Enqueue(ctx context.Context, job services.AnswerJob) (string, error) {
	maxLen := q.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	return q.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream(),
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"session_id":   job.SessionID,
			"user_id":      job.UserID,
			"language":     job.Language,
			"audio_base64": base64.StdEncoding.EncodeToString(job.Audio),
			"ts_unix":      strconv.FormatInt(time.Now().UTC().Unix(), 10),
		},
	}).Result()
}

// AnswerWorkerPool transcribes queued voice answers and applies them to their sessions.
type AnswerWorkerPool struct {
	Redis      *redis.Client
	Answers    services.InterviewService
	STT        stt.Provider
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	JobTimeout     time.Duration
}

func (p *AnswerWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Answers == nil || p.STT == nil {
		return errors.New("AnswerWorkerPool missing dependency: Redis/Answers/STT must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultAnswerStream
	}
	if p.Group == "" {
		p.Group = "answer-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 3
	}
	if p.JobTimeout <= 0 {
		p.JobTimeout = 2 * time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "$").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *AnswerWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    4,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("answer stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handle(ctx, msg.ID, msg.Values)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func normalizeLanguage(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "", "en", "en-US":
		return "en-US"
	case "id", "id-ID":
		return "id-ID"
	default:
		return v
	}
}

// handle processes one stream entry. Failures are logged and reported on the
// session's live channel; the entry is acked either way.
func (p *AnswerWorkerPool) handle(ctx context.Context, id string, values map[string]any) {
	getStr := func(k string) string {
		v, ok := values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	sessionID := getStr("session_id")
	log := p.Logger.WithFields(logrus.Fields{"redis_id": id, "session_id": sessionID})
	if sessionID == "" {
		log.Warn("answer job without session_id dropped")
		return
	}

	raw := getStr("audio_base64")
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:] // strip data:...;base64,
	}
	audio, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(audio) == 0 {
		log.WithError(err).Warn("answer job has no decodable audio")
		return
	}

	jctx, cancel := context.WithTimeout(ctx, p.JobTimeout)
	defer cancel()

	start := time.Now()
	text, conf, err := p.STT.Transcribe(jctx, audio, normalizeLanguage(getStr("language")))
	if err != nil {
		log.WithError(err).Error("stt failed")
		p.Answers.AnswerFailed(sessionID, "transcription failed")
		return
	}

	if err := p.Answers.ApplyTranscript(jctx, sessionID, text); err != nil {
		log.WithError(err).Warn("transcribed answer rejected")
		return
	}
	log.WithFields(logrus.Fields{
		"confidence":         conf,
		"processing_time_ms": time.Since(start).Milliseconds(),
	}).Info("voice answer applied")
}
