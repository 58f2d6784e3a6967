package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/deploydeck/api/internal/auth"
	"github.com/deploydeck/api/internal/handler"
	"github.com/deploydeck/api/internal/middleware"
	"github.com/deploydeck/api/internal/service"
	"github.com/deploydeck/api/internal/store"
	"github.com/deploydeck/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// setupApp creates a Fiber app identical to main.go but with unconfigured
// external clients. The directory serves sample data, reports use mock
// links, and the job store is memory-only. Enqueued chunks land in Redis
// but no worker server consumes them, so submitted jobs stay scheduled.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	// Job store, memory-only (nil persister keeps the test DB clean)
	st := store.New(store.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   time.Minute,
	}, nil)

	hub := websocket.NewHub()
	go hub.Run()
	st.SetListener(hub.StoreListener())
	go st.Run()
	t.Cleanup(st.Stop)

	validate := validator.New()

	// Services — directory graph nil → sample data, storage nil → mock links
	dispatcher := service.NewDispatcher(st, asynqClient, 20)
	assignmentService := service.NewAssignmentService(st, dispatcher)
	directoryService := service.NewDirectoryService(nil)
	reportService := service.NewReportService(st, nil, time.Hour)

	// Handlers
	assignmentHandler := handler.NewAssignmentHandler(assignmentService, reportService, validate)
	directoryHandler := handler.NewDirectoryHandler(directoryService)

	// Auth handler (for /auth/verify)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware — legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 2 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"graph":   false,
				"redis":   false,
				"storage": false,
				"auth":    true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	assignments := api.Group("/assignments")
	assignments.Post("/bulk", rateLimiter.BulkLimit(10000), assignmentHandler.SubmitBulk)
	assignments.Get("/", rateLimiter.ReadsLimit(10000), assignmentHandler.ListBatches)
	assignments.Get("/:batchId", rateLimiter.ReadsLimit(10000), assignmentHandler.GetBatch)
	assignments.Get("/:batchId/summary", rateLimiter.ReadsLimit(10000), assignmentHandler.GetSummary)
	assignments.Get("/:batchId/jobs", rateLimiter.ReadsLimit(10000), assignmentHandler.ListJobs)
	assignments.Get("/:batchId/report", rateLimiter.ReportsLimit(10000), assignmentHandler.GetReport)
	assignments.Post("/:batchId/cancel", rateLimiter.ReadsLimit(10000), assignmentHandler.Cancel)

	directory := api.Group("/directory", rateLimiter.ReadsLimit(10000))
	directory.Get("/apps", directoryHandler.ListApps)
	directory.Get("/groups", directoryHandler.ListGroups)
	directory.Get("/filters", directoryHandler.ListFilters)

	return &testApp{app: app}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "deploydeck-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
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

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
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

// parseJSONList parses response body into a slice, for list endpoints.
func parseJSONList(t *testing.T, resp *http.Response) []interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result []interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON list: %v\nbody: %s", err, body)
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
