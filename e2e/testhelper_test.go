package e2e

import (
	"context"
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

	"github.com/trackvault/api/internal/auth"
	"github.com/trackvault/api/internal/client"
	"github.com/trackvault/api/internal/extract"
	"github.com/trackvault/api/internal/handler"
	"github.com/trackvault/api/internal/middleware"
	"github.com/trackvault/api/internal/service"
	"github.com/trackvault/api/internal/store"
	"github.com/trackvault/api/internal/websocket"
	"github.com/trackvault/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	service *service.CaptureService
	storage *client.MemoryStorage
}

// inlineQueue runs the capture worker synchronously instead of going
// through Redis, so a submitted job is fully processed by the time
// Submit returns.
type inlineQueue struct {
	worker *worker.CaptureWorker
}

func (q *inlineQueue) EnqueueCapture(ctx context.Context, jobID string) error {
	if q.worker == nil {
		return nil
	}
	payload, err := json.Marshal(service.CaptureTaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	return q.worker.ProcessTask(ctx, asynqTask(payload))
}

func asynqTask(payload []byte) *asynq.Task {
	return asynq.NewTask(service.TaskTypeCapture, payload)
}

// stubStrategy yields a fixed audio stream without touching the network.
type stubStrategy struct {
	data string
}

func (stubStrategy) Name() string { return "stub" }

func (s stubStrategy) Attempt(ctx context.Context, url string, onProgress extract.ProgressFunc) (io.ReadCloser, error) {
	onProgress(50)
	return io.NopCloser(strings.NewReader(s.data)), nil
}

// setupApp builds a Fiber app wired like main.go but with in-memory
// state and a synchronous pipeline. No Redis or R2 required.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	jobStore := store.NewMemoryStore()
	storage := client.NewMemoryStorage()
	validate := validator.New()

	hub := websocket.NewHub()
	go hub.Run()

	queue := &inlineQueue{}
	captureService := service.NewCaptureService(jobStore, storage, queue, service.NewCanceler(), hub)

	chain := extract.NewChain(time.Second, stubStrategy{data: "e2e-audio-bytes"})
	resolver := extract.NewInfoResolver("definitely-not-a-binary")
	queue.worker = worker.NewCaptureWorker(captureService, storage, chain, resolver)

	captureHandler := handler.NewCaptureHandler(captureService, validate)
	libraryHandler := handler.NewLibraryHandler(captureService)
	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	captures := api.Group("/captures")
	captures.Post("/", captureHandler.Start)
	captures.Get("/:id", captureHandler.Status)
	captures.Post("/:id/cancel", captureHandler.Cancel)
	captures.Post("/:id/retry", captureHandler.Retry)

	library := api.Group("/library")
	library.Get("/", libraryHandler.List)
	library.Get("/:ref/stream", libraryHandler.Stream)
	library.Delete("/:ref", libraryHandler.Delete)

	return &testApp{app: app, service: captureService, storage: storage}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		Email:  userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "trackvault-api",
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

// doAuthRequest performs an authenticated request as the given user.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body, userID string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t, userID)
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

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// submitCapture starts a capture and returns its job snapshot.
func submitCapture(t *testing.T, ta *testApp, userID string) map[string]interface{} {
	t.Helper()
	body := `{"sourceUrl": "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "fileName": "Test Track"}`
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/captures/", body, userID)
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	return parseJSON(t, resp)
}
