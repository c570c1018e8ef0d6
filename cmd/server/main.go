package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/internal/auth"
	"github.com/sonicgenius/api/internal/client"
	"github.com/sonicgenius/api/internal/config"
	"github.com/sonicgenius/api/internal/handler"
	"github.com/sonicgenius/api/internal/logging"
	"github.com/sonicgenius/api/internal/middleware"
	"github.com/sonicgenius/api/internal/service"
	"github.com/sonicgenius/api/internal/telemetry"
	ws "github.com/sonicgenius/api/internal/websocket"
	"github.com/sonicgenius/api/pkg/response"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet.
		fallback := logging.Setup("development", "info")
		if errors.Is(err, config.ErrMissingAPIKey) {
			fallback.Fatal().Msg("GEMINI_API_KEY is required. Set it in the environment or via GEMINI_API_KEY_FILE")
		}
		fallback.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.Setup(cfg.Server.Env, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Enabled:        cfg.Tracing.Enabled,
		SampleRate:     cfg.Tracing.SampleRate,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisUp = false
		log.Warn().Err(err).Msg("redis not available")
	}

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	validate := validator.New()

	hub := ws.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	geminiClient := client.NewGeminiClient(&cfg.Gemini)

	// Optional: audio jobs carry bytes inline without it.
	var storage client.StorageClient
	var r2Client *client.R2Client
	if cfg.R2.Configured() {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, audio jobs carry payloads inline")
	}

	var tokenVerifier auth.TokenVerifier
	if cfg.OIDC.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, cfg.OIDC)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
			tokenVerifier = jwksVerifier
		}
	}

	analysisService, err := service.NewAnalysisService(geminiClient, service.AnalysisOptions{
		Language:      cfg.Analysis.Language,
		Timeout:       cfg.Gemini.RequestTimeout(),
		MaxAudioBytes: cfg.Analysis.MaxAudioBytes(),
	}, log)
	if err != nil {
		return err
	}
	jobService := service.NewJobService(redisClient, asynqClient, inspector, storage, service.JobOptions{
		ResultTTL:   cfg.Jobs.ResultTTL(),
		TaskTimeout: cfg.Gemini.RequestTimeout() + time.Minute,
	}, log)

	analysisHandler := handler.NewAnalysisHandler(analysisService, validate, cfg.Analysis.MaxAudioBytes())
	jobsHandler := handler.NewJobsHandler(jobService, validate, cfg.Analysis.MaxAudioBytes())

	var apiAuthMiddleware fiber.Handler
	switch cfg.Auth.Mode {
	case config.AuthModeGateway:
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	case config.AuthModeJWT:
		apiAuthMiddleware = middleware.NewAuthMiddleware(tokenVerifier, cfg.JWT.Secret).Authenticate()
	default:
		log.Info().Msg("auth disabled, callers are identified by IP")
		apiAuthMiddleware = middleware.Anonymous()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log)
	inFlight := middleware.NewInFlight(redisClient, cfg.Gemini.RequestTimeout()+30*time.Second, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Analysis.MaxAudioBytes()) + 1024*1024,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Output: log,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(telemetry.MetricsMiddleware())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
			"version":   version,
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini": analysisService.IsConfigured(),
				"redis":  redisUp,
				"r2":     storage != nil,
				"auth":   tokenVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	app.Get("/metrics", telemetry.Handler())

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", middleware.NewAuthMiddleware(tokenVerifier, cfg.JWT.Secret).ForwardAuth())

	api := app.Group("/api", apiAuthMiddleware)

	analyze := api.Group("/analyze", rateLimiter.AnalyzeLimit(cfg.RateLimit.AnalyzePerMin), inFlight.Guard())
	analyze.Post("/text", analysisHandler.Text)
	analyze.Post("/video", analysisHandler.Video)
	analyze.Post("/audio", analysisHandler.Audio)

	jobs := api.Group("/jobs")
	startLimit := rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour)
	jobs.Post("/text", startLimit, jobsHandler.Text)
	jobs.Post("/video", startLimit, jobsHandler.Video)
	jobs.Post("/audio", startLimit, jobsHandler.Audio)
	jobs.Get("/status/:jobId", jobsHandler.Status)
	jobs.Get("/result/:jobId", jobsHandler.Result)
	jobs.Post("/cancel/:jobId", jobsHandler.Cancel)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	workerSrv := newWorkerServer(cfg, redisOpt, log)
	workerMux := newWorkerMux(jobService, analysisService, hub, cfg.Analysis.MaxAudioBytes(), log)
	if err := workerSrv.Start(workerMux); err != nil {
		log.Warn().Err(err).Msg("asynq worker not started")
	} else {
		defer workerSrv.Shutdown()
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Str("auth", cfg.Auth.Mode).Msg("server starting")
	return app.Listen(addr)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
