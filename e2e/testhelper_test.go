package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/internal/auth"
	"github.com/sonicgenius/api/internal/client"
	"github.com/sonicgenius/api/internal/config"
	"github.com/sonicgenius/api/internal/handler"
	"github.com/sonicgenius/api/internal/middleware"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/internal/service"
	"github.com/sonicgenius/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	model  *fakeModel
	queue  *captureQueue
	worker *worker.AnalysisWorker
	redis  *redis.Client
}

// fakeModel is a stand-in for the Gemini generateContent endpoint
type fakeModel struct {
	mu        sync.Mutex
	text      string
	sources   []map[string]string
	status    int
	requests  []map[string]any
	lastModel string
}

func (m *fakeModel) reply(text string, sources ...map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	m.sources = sources
	m.status = http.StatusOK
}

func (m *fakeModel) fail(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	m.requests = append(m.requests, body)
	m.lastModel = strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/models/"), ":generateContent")

	if m.status != http.StatusOK {
		w.WriteHeader(m.status)
		w.Write([]byte(`{"error":{"message":"unavailable"}}`))
		return
	}

	chunks := make([]map[string]any, 0, len(m.sources))
	for _, s := range m.sources {
		chunks = append(chunks, map[string]any{"web": s})
	}
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content":           map[string]any{"parts": []any{map[string]any{"text": m.text}}},
			"finishReason":      "STOP",
			"groundingMetadata": map[string]any{"groundingChunks": chunks},
		}},
	})
}

// captureQueue records enqueued tasks instead of sending them to Redis
type captureQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *captureQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Queue: service.QueueAnalysis}, nil
}

func (q *captureQueue) last(t *testing.T) *asynq.Task {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		t.Fatal("no task enqueued")
	}
	return q.tasks[len(q.tasks)-1]
}

type nopHub struct{}

func (nopHub) BroadcastProgress(string, int, model.JobStatus, string) {}
func (nopHub) BroadcastComplete(string, *model.AnalysisResponse)      {}
func (nopHub) BroadcastError(string, string, string)                  {}

// setupApp creates a Fiber app wired like cmd/server, with the model served
// by an in-process fake and Redis DB 15.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: redisAddr(),
		DB:   15, // use DB 15 for tests to avoid collision
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: redis not available: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	fm := &fakeModel{status: http.StatusOK}
	srv := httptest.NewServer(fm)
	t.Cleanup(srv.Close)

	geminiClient := client.NewGeminiClient(&config.GeminiConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "gemini-3-flash-preview",
		VideoModel: "gemini-3-pro-preview",
	})

	logger := zerolog.Nop()
	validate := validator.New()

	analysisService, err := service.NewAnalysisService(geminiClient, service.AnalysisOptions{
		Language:      "pt-BR",
		Timeout:       5 * time.Second,
		MaxAudioBytes: 1024 * 1024,
	}, logger)
	if err != nil {
		t.Fatal(err)
	}

	queue := &captureQueue{}
	jobService := service.NewJobService(redisClient, queue, nil, nil, service.JobOptions{ResultTTL: time.Minute}, logger)
	analysisWorker := worker.NewAnalysisWorker(jobService, analysisService, nopHub{}, 1024*1024, logger)

	analysisHandler := handler.NewAnalysisHandler(analysisService, validate, 1024*1024)
	jobsHandler := handler.NewJobsHandler(jobService, validate, 1024*1024)

	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient, logger)
	inFlight := middleware.NewInFlight(redisClient, time.Minute, logger)

	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini": analysisService.IsConfigured(),
				"redis":  true,
				"r2":     false,
				"auth":   true,
			},
		})
	})
	app.Get("/auth/verify", authMiddleware.ForwardAuth())

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	analyze := api.Group("/analyze", rateLimiter.AnalyzeLimit(10000), inFlight.Guard())
	analyze.Post("/text", analysisHandler.Text)
	analyze.Post("/video", analysisHandler.Video)
	analyze.Post("/audio", analysisHandler.Audio)

	jobs := api.Group("/jobs")
	jobs.Post("/text", rateLimiter.JobsLimit(10000), jobsHandler.Text)
	jobs.Post("/video", rateLimiter.JobsLimit(10000), jobsHandler.Video)
	jobs.Post("/audio", rateLimiter.JobsLimit(10000), jobsHandler.Audio)
	jobs.Get("/status/:jobId", jobsHandler.Status)
	jobs.Get("/result/:jobId", jobsHandler.Result)
	jobs.Post("/cancel/:jobId", jobsHandler.Cancel)

	return &testApp{app: app, model: fm, queue: queue, worker: analysisWorker, redis: redisClient}
}

func redisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// loadEnvFile loads ../.env into the environment when present.
func loadEnvFile(t *testing.T) {
	t.Helper()
	_, filename, _, _ := runtime.Caller(0)
	envPath := filepath.Join(filepath.Dir(filename), "..", ".env")

	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			t.Setenv(parts[0], parts[1])
		}
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.SignLegacyToken(testJWTSecret, userID, "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request as a fresh user so rate
// limits and the in-flight lock never leak between tests.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequestAs(t, app, "e2e-"+uuid.NewString(), method, path, body)
}

func doRequestAs(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

// analysisDoc returns a model reply that satisfies the analysis schema.
func analysisDoc(overrides map[string]any) string {
	doc := map[string]any{
		"title":  "Bohemian Rhapsody",
		"artist": "Queen",
		"genres": []any{
			map[string]any{"name": "Progressive Rock", "percentage": 60, "description": "Suite"},
			map[string]any{"name": "Opera", "percentage": 40, "description": "Operatic section"},
		},
		"bpm":                  72,
		"key":                  "Bb major",
		"mood":                 []any{"operatic", "dramatic"},
		"instrumentation":      []any{"piano", "electric guitar"},
		"similarArtists":       []any{"Electric Light Orchestra"},
		"harmonicInstruments":  []any{"piano"},
		"sunoStyleDescription": "72bpm, Bb major, operatic, progressive rock, grand piano",
		"suggestedMixStyle":    "baroque choir",
	}
	for _, f := range []string{
		"historicalContext", "technicalAnalysis", "vibeDescription", "drumAnalysis", "bassAnalysis",
		"rhythmAnalysis", "styleAnalysis", "timbreAnalysis", "dynamicsAnalysis", "chordProgression",
		"tonalityAnalysis", "vocalRange", "vocalTimbre", "vocalTechnique", "environment",
		"productionAnalysis", "mixAnalysis", "masteringAnalysis", "lyricsAnalysis", "structureAnalysis",
		"singerGenreStyle", "stylePrompt", "detailedMusicalStyle",
	} {
		doc[f] = f + " text"
	}
	for k, v := range overrides {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	b, _ := json.Marshal(doc)
	return string(b)
}
