package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"github.com/yoockh/mockmate/config"
	"github.com/yoockh/mockmate/internal/api/handlers"
	"github.com/yoockh/mockmate/internal/api/middleware"
	"github.com/yoockh/mockmate/internal/api/routes"
	"github.com/yoockh/mockmate/internal/cache"
	"github.com/yoockh/mockmate/internal/emotion"
	"github.com/yoockh/mockmate/internal/evaluation"
	"github.com/yoockh/mockmate/internal/events"
	"github.com/yoockh/mockmate/internal/logger"
	"github.com/yoockh/mockmate/internal/models"
	"github.com/yoockh/mockmate/internal/providers/fer"
	"github.com/yoockh/mockmate/internal/providers/llm"
	"github.com/yoockh/mockmate/internal/providers/stt"
	"github.com/yoockh/mockmate/internal/providers/tts"
	mongorepo "github.com/yoockh/mockmate/internal/repositories/mongo"
	pgrepo "github.com/yoockh/mockmate/internal/repositories/postgres"
	"github.com/yoockh/mockmate/internal/services"
	"github.com/yoockh/mockmate/internal/storage"
	"github.com/yoockh/mockmate/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := services.InterviewDeps{Logger: log}

	// Mongo: session records and emotion snapshots
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = config.InitMongo(ctx, cfg.MongoURI)
		if err != nil {
			log.WithError(err).Fatal("mongo init")
		}
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()

		db := mongoClient.Database(cfg.MongoDB)
		if err := config.EnsureMongoIndexes(ctx, db); err != nil {
			log.WithError(err).Warn("mongo indexes")
		}
		deps.Sessions = mongorepo.NewSessionRepo(db)
		deps.Snapshots = mongorepo.NewSnapshotRepo(db, cfg.SnapshotTTL)
		log.Info("mongo connected")
	} else {
		log.Warn("MONGO_URI not set, session records are not persisted")
	}

	// Postgres: final results
	var pg *gorm.DB
	if cfg.PostgresURI != "" {
		pg, err = config.InitPostgres(cfg.PostgresURI, log)
		if err != nil {
			log.WithError(err).Fatal("postgres init")
		}
		deps.Results = pgrepo.NewResultRepo(pg)
		log.Info("postgres connected")
	} else {
		log.Warn("POSTGRES_URI not set, results are not persisted")
	}

	// Redis: question cache, live events, voice answer queue
	var rdb *redis.Client
	var questionCache cache.Cache = cache.NewMemoryCache()
	deps.Broker = events.NewMemoryBroker()
	if cfg.RedisAddr != "" {
		rdb, err = config.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Fatal("redis init")
		}
		defer rdb.Close()

		questionCache = cache.NewRedisCache(rdb)
		deps.Broker = events.NewRedisBroker(rdb)
		deps.Queue = &workers.AnswerQueue{Redis: rdb, Stream: cfg.AnswerStream}
		log.Info("redis connected")
	} else {
		log.Warn("REDIS_ADDR not set, using in-process cache and events; voice answers disabled")
	}

	// recordings
	recordingsDir := ""
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSUploader(ctx, cfg.GCSBucket, cfg.GCSPublic)
		if err != nil {
			log.WithError(err).Fatal("gcs init")
		}
		defer gcs.Close()
		deps.Uploader = gcs
		if !cfg.GCSPublic {
			deps.Signer = gcs
		}
	} else {
		local, err := storage.NewLocalUploader(cfg.RecordingsDir, cfg.PublicBaseURL+"/recordings")
		if err != nil {
			log.WithError(err).Fatal("local storage init")
		}
		deps.Uploader = local
		recordingsDir = local.Dir()
		log.WithField("dir", recordingsDir).Warn("GCS_BUCKET not set, recordings are kept on local disk")
	}

	// language model
	gc := llm.GenerationConfig{Temperature: float32(cfg.LLMTemperature), MaxOutputTokens: int32(cfg.LLMMaxTokens)}
	var model llm.Provider
	switch {
	case cfg.GCPProject != "":
		vg, err := llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GeminiModel, gc)
		if err != nil {
			log.WithError(err).Fatal("vertex init")
		}
		model = vg
	case cfg.GeminiAPIKey != "":
		model = llm.NewGeminiREST(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, gc)
	default:
		log.Fatal("set GCP_PROJECT_ID or GEMINI_API_KEY")
	}
	defer model.Close()

	deps.Gateway = evaluation.NewGateway(model, questionCache, evaluation.Options{
		QuestionCount: cfg.QuestionCount,
		QuestionTTL:   cfg.QuestionTTL,
		Timeout:       cfg.LLMTimeout,
		Logger:        logrus.NewEntry(log),
	})

	// emotion inference, called with the candidate's own credential
	ferClient := fer.NewClient(cfg.FERBaseURL, "", cfg.FERTimeout)
	deps.NewAnalyzer = func(creds models.Credentials) emotion.Analyzer {
		return ferClient.WithToken(creds.Token)
	}

	if cfg.ElevenLabsKey != "" {
		deps.TTS = tts.NewElevenLabs(cfg.ElevenLabsBaseURL, cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID)
	}

	svc := services.NewInterviewService(services.InterviewConfig{
		SampleInterval:    cfg.SampleInterval,
		DeviceOpenTimeout: cfg.DeviceOpenTimeout,
		FinalizeTimeout:   cfg.FinalizeTimeout,
		FinishTimeout:     cfg.FinishTimeout,
		RetainFinished:    cfg.RetainFinished,
		AgentGrace:        cfg.AgentGrace,
		AbandonAfter:      cfg.AbandonAfter,
		SignedURLTTL:      cfg.SignedURLTTL,
		MaxAudioBytes:     cfg.MaxAudioBytes,
	}, deps)

	go svc.RunJanitor(ctx, time.Minute)

	// voice answers
	if rdb != nil {
		var transcriber stt.Provider
		switch cfg.STTProvider {
		case "assemblyai":
			if cfg.AssemblyAIKey == "" {
				log.Fatal("ASSEMBLYAI_API_KEY is required for STT_PROVIDER=assemblyai")
			}
			transcriber = stt.NewAssemblyAI(cfg.AssemblyAIBaseURL, cfg.AssemblyAIKey)
		default:
			gs, err := stt.NewGoogleSpeech(ctx)
			if err != nil {
				log.WithError(err).Fatal("speech init")
			}
			defer gs.Close()
			transcriber = gs
		}

		pool := &workers.AnswerWorkerPool{
			Redis:      rdb,
			Answers:    svc,
			STT:        transcriber,
			NumWorkers: cfg.AnswerWorkers,
			Logger:     log,
			Stream:     cfg.AnswerStream,
		}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("answer workers")
		}
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, "/ping"))
	routes.RegisterRoutes(r, routes.Deps{
		Interview:     handlers.NewInterviewHandler(svc, int64(cfg.MaxAudioBytes)),
		WS:            handlers.NewWSHandler(svc, deps.Broker, cfg.AllowedOrigins, log),
		JWTSecret:     cfg.JWTSecret,
		RecordingsDir: recordingsDir,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("mockmate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	svc.Shutdown(shutdownCtx)
}
