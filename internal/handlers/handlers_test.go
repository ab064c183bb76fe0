package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/cleanup"
	"github.com/voxpipe/realtime-transcription/internal/logger"
	"github.com/voxpipe/realtime-transcription/internal/notify"
	"github.com/voxpipe/realtime-transcription/internal/queue"
	"github.com/voxpipe/realtime-transcription/internal/service"
	"github.com/voxpipe/realtime-transcription/internal/transcript"
	"github.com/voxpipe/realtime-transcription/internal/transcription"
	"github.com/voxpipe/realtime-transcription/internal/types"
)

type staticEngine struct{}

func (staticEngine) Transcribe(ctx context.Context, audioPath string, params types.ModelParams) (*types.EngineResult, error) {
	return &types.EngineResult{Text: "ok", Language: "en", Confidence: 0.9}, nil
}

type nopStore struct{}

func (nopStore) SaveTranscript(t *types.FinalizedTranscript) error { return nil }

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func testApp(t *testing.T) *fiber.App {
	t.Helper()
	entry := testEntry()

	processor := transcription.NewProcessor(t.TempDir(), staticEngine{}, entry,
		transcription.WithNormalizer(func(in, dir string) (string, error) { return in, nil }))
	breaker := transcription.NewCircuitBreaker(5, time.Minute, entry)
	jobs := queue.NewManager(processor, 0, 0, entry)
	hub := notify.NewHub(64)
	transcripts := transcript.NewManager(nopStore{}, hub, 0, 0, entry)
	memory := cleanup.NewManager(jobs, transcripts, processor, time.Hour, time.Hour, entry)
	svc := service.New(types.DefaultConfig(), jobs, transcripts, processor, breaker, memory, hub, 0, entry)

	app := fiber.New()
	rh := NewRecordingHandler(svc)
	ah := NewAdminHandler(svc, logger.NewBuffer(100))

	api := app.Group("/api")
	api.Post("/recordings/:id/transcription/start", rh.Start)
	api.Post("/recordings/:id/transcription/stop", rh.Stop)
	api.Post("/recordings/:id/transcription/chunks", rh.SubmitChunk)
	api.Get("/recordings/:id/transcription", rh.Transcript)
	api.Get("/recordings/:id/transcription/text", rh.MergedText)
	api.Get("/transcription/config", ah.GetConfig)
	api.Patch("/transcription/config", ah.UpdateConfig)
	api.Get("/transcription/stats", ah.Stats)
	api.Get("/transcription/health", ah.Health)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

// TestRecordingLifecycle drives start, chunk submission, and stop over HTTP.
func TestRecordingLifecycle(t *testing.T) {
	app := testApp(t)

	status, body := doJSON(t, app, "POST", "/api/recordings/rec-1/transcription/start", nil)
	if status != 200 || body["status"] != "transcribing" {
		t.Fatalf("start = %d %v", status, body)
	}

	chunk := ChunkRequest{
		ID:          "c0",
		Data:        base64.StdEncoding.EncodeToString([]byte("webm-bytes")),
		StartOffset: 0,
		EndOffset:   15,
	}
	status, body = doJSON(t, app, "POST", "/api/recordings/rec-1/transcription/chunks", chunk)
	if status != 200 {
		t.Fatalf("submit chunk = %d %v", status, body)
	}
	if body["job_id"] == "" || body["job_id"] == nil {
		t.Fatalf("no job id in response: %v", body)
	}

	status, body = doJSON(t, app, "GET", "/api/recordings/rec-1/transcription/text", nil)
	if status != 200 {
		t.Fatalf("merged text = %d %v", status, body)
	}

	status, _ = doJSON(t, app, "POST", "/api/recordings/rec-1/transcription/stop", nil)
	if status != 200 {
		t.Fatalf("stop = %d", status)
	}

	status, body = doJSON(t, app, "POST", "/api/recordings/rec-1/transcription/stop", nil)
	if status != 404 || body["code"] != "ERR_NOT_ACTIVE" {
		t.Fatalf("second stop = %d %v", status, body)
	}
}

// TestSubmitChunkErrors covers the request-level failure responses.
func TestSubmitChunkErrors(t *testing.T) {
	app := testApp(t)

	// recording never started
	chunk := ChunkRequest{Data: base64.StdEncoding.EncodeToString([]byte("x")), EndOffset: 15}
	status, body := doJSON(t, app, "POST", "/api/recordings/ghost/transcription/chunks", chunk)
	if status != 404 || body["code"] != "ERR_NOT_ACTIVE" {
		t.Fatalf("unstarted recording = %d %v", status, body)
	}

	if status, _ := doJSON(t, app, "POST", "/api/recordings/rec-1/transcription/start", nil); status != 200 {
		t.Fatal("start failed")
	}

	// bad base64
	status, body = doJSON(t, app, "POST", "/api/recordings/rec-1/transcription/chunks",
		ChunkRequest{Data: "%%%not-base64%%%", EndOffset: 15})
	if status != 400 || body["code"] != "ERR_INVALID_DATA" {
		t.Fatalf("bad base64 = %d %v", status, body)
	}

	// empty payload
	status, body = doJSON(t, app, "POST", "/api/recordings/rec-1/transcription/chunks",
		ChunkRequest{Data: "", EndOffset: 15})
	if status != 400 || body["code"] != "ERR_INVALID_CHUNK" {
		t.Fatalf("empty chunk = %d %v", status, body)
	}
}

// TestConfigEndpoint verifies reads, valid patches, and the overlap bound.
func TestConfigEndpoint(t *testing.T) {
	app := testApp(t)

	status, body := doJSON(t, app, "GET", "/api/transcription/config", nil)
	if status != 200 || body["model"] != "base" {
		t.Fatalf("get config = %d %v", status, body)
	}

	status, body = doJSON(t, app, "PATCH", "/api/transcription/config",
		map[string]interface{}{"model": "small", "max_concurrent_jobs": 4})
	if status != 200 || body["model"] != "small" {
		t.Fatalf("patch config = %d %v", status, body)
	}
	if body["max_concurrent_jobs"].(float64) != 4 {
		t.Fatalf("max_concurrent_jobs = %v", body["max_concurrent_jobs"])
	}

	status, body = doJSON(t, app, "PATCH", "/api/transcription/config",
		map[string]interface{}{"chunk_duration": 5.0, "chunk_overlap": 5.0})
	if status != 400 || body["code"] != "ERR_INVALID_CONFIG" {
		t.Fatalf("invalid overlap = %d %v", status, body)
	}
}

// TestStatsAndHealth verifies the diagnostic endpoints respond.
func TestStatsAndHealth(t *testing.T) {
	app := testApp(t)

	status, body := doJSON(t, app, "GET", "/api/transcription/stats", nil)
	if status != 200 {
		t.Fatalf("stats = %d", status)
	}
	if _, ok := body["queued_jobs"]; !ok {
		t.Fatalf("stats missing queued_jobs: %v", body)
	}

	status, body = doJSON(t, app, "GET", "/api/transcription/health", nil)
	if status != 200 {
		t.Fatalf("health = %d %v", status, body)
	}
	if body["healthy"] != true {
		t.Fatalf("health report = %v", body)
	}
}
