// Package integration provides a reusable test harness for end-to-end
// testing of the skillstream system. It wires the server and the worker in
// one process on in-memory backends with a scriptable text-generation mock,
// so a test can submit a task, watch it run, and stream its progress.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/bridge"
	"github.com/skillstream/skillstream/internal/config"
	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/internal/pipeline"
	"github.com/skillstream/skillstream/internal/queue"
	"github.com/skillstream/skillstream/internal/stream"
	"github.com/skillstream/skillstream/internal/transport"
	"github.com/skillstream/skillstream/internal/worker"
	"github.com/skillstream/skillstream/model"
)

// TestHarness encapsulates a fully wired skillstream instance: HTTP server,
// worker pool, and the in-memory backends they share.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Store   ledger.Store
	Queue   queue.Queue
	Broker  bridge.Broker
	Manager *stream.Manager
	LLM     *llm.MockClient

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	llmResponses []string
	llmErr       error
	llmDelay     time.Duration
	concurrency  int
	streamCfg    *config.StreamConfig
}

// WithLLMResponses scripts the mock text-generation client. Responses are
// consumed in call order; exhausted scripts reply with an empty string,
// which stage bodies resolve with their deterministic fallbacks.
func WithLLMResponses(responses ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.llmResponses = append(c.llmResponses, responses...)
	}
}

// WithLLMError makes the first model call fail with err.
func WithLLMError(err error) HarnessOption {
	return func(c *harnessConfig) {
		c.llmErr = err
	}
}

// WithLLMDelay adds per-call latency to the mock, so a test can observe a
// run while it is still in flight.
func WithLLMDelay(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.llmDelay = d
	}
}

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.concurrency = n
	}
}

// WithStreamConfig overrides the fan-out settings, e.g. to lower caps.
func WithStreamConfig(cfg config.StreamConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.streamCfg = &cfg
	}
}

// NewTestHarness creates and starts a full skillstream instance. Everything
// is torn down when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{concurrency: 2}
	for _, opt := range opts {
		opt(hc)
	}

	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Queue.PopTimeout = 50 * time.Millisecond
	cfg.Stream.PollInterval = 20 * time.Millisecond
	cfg.Stream.GraceDelay = 30 * time.Millisecond
	cfg.Stream.PingInterval = time.Second
	cfg.Stream.WriteTimeout = time.Second
	if hc.streamCfg != nil {
		cfg.Stream = *hc.streamCfg
	}

	logger := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	h := &TestHarness{
		t:      t,
		Store:  ledger.NewMemoryStore(),
		Queue:  queue.NewMemoryQueue(64, cfg.Queue.PopTimeout),
		Broker: bridge.NewMemoryBroker(),
		LLM:    llm.NewMockClient(hc.llmResponses...),
		cfg:    cfg,
	}
	if hc.llmErr != nil {
		h.LLM.FailWith(hc.llmErr)
	}
	h.LLM.Delay = hc.llmDelay

	ctx, cancel := context.WithCancel(context.Background())

	// Worker side: publisher, orchestrator, pool.
	publisher := bridge.NewPublisher(h.Broker, logger, metrics, cfg.Stream.PublishBuffer)
	go publisher.Run(ctx)

	orch := pipeline.NewOrchestrator(h.LLM, h.Store, publisher, logger, metrics, cfg.LLM.Temperature)
	pool := worker.NewPool(h.Queue, h.Store, orch, logger, metrics, hc.concurrency)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	// Serving side: fan-out manager and router.
	h.Manager = stream.NewManager(h.Broker, h.Store, logger, metrics, cfg.Stream)

	router := transport.NewRouter(transport.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Store:   h.Store,
		Queue:   h.Queue,
		Manager: h.Manager,
		Readiness: observability.ReadinessChecks{
			Ledger: h.Store,
			Broker: h.Broker,
			Queue:  h.Queue,
		},
	})

	h.server = httptest.NewServer(router)

	t.Cleanup(func() {
		h.server.Close()
		h.Manager.Shutdown()
		cancel()
		select {
		case <-poolDone:
		case <-time.After(2 * time.Second):
			t.Error("worker pool did not stop")
		}
		publisher.Wait()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// --- HTTP client helpers ---

// GET performs a GET request against the test server.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body)
}

func (h *TestHarness) doRequest(method, path string, body any) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(resp *http.Response, expected int) {
	h.t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		h.t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// SubmitTask posts a task and returns its id.
func (h *TestHarness) SubmitTask(req map[string]any) string {
	h.t.Helper()

	resp := h.POST("/v1/tasks", req)
	h.AssertStatus(resp, http.StatusAccepted)

	var out struct {
		TaskID string `json:"task_id"`
	}
	h.ParseJSON(resp, &out)
	if out.TaskID == "" {
		h.t.Fatal("submit returned an empty task id")
	}
	return out.TaskID
}

// WaitForStatus polls the ledger until the task reaches the wanted status.
func (h *TestHarness) WaitForStatus(taskID string, want model.TaskStatus, timeout time.Duration) model.Task {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		task, err := h.Store.Get(context.Background(), taskID)
		if err == nil && task.Status == want {
			return task
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("task %s never reached %s (last: %+v, err: %v)", taskID, want, task.Status, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// DialStream opens a WebSocket connection to the task's progress stream.
func (h *TestHarness) DialStream(taskID string) *websocket.Conn {
	h.t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/tasks/" + taskID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		h.t.Fatalf("dialing stream for %s: %v", taskID, err)
	}
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

// ReadFrame reads one stream frame with a deadline.
func (h *TestHarness) ReadFrame(conn *websocket.Conn) stream.Message {
	h.t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg stream.Message
	if err := conn.ReadJSON(&msg); err != nil {
		h.t.Fatalf("reading stream frame: %v", err)
	}
	return msg
}

// --- Fixtures ---

// GenerationRequest returns a typical task submission body.
func GenerationRequest() map[string]any {
	return map[string]any{
		"position_title": "Senior Backend Engineer",
		"resume_text": "Jane Doe\nSenior Go engineer\n\n" +
			"Experience: 8 years building distributed systems in Go, " +
			"Kubernetes operations, PostgreSQL performance tuning.",
		"job_description": "We are hiring a senior backend engineer to own " +
			"our Go services, Kubernetes deployments, and data layer.",
	}
}

// ExtractionReply is a well-formed skill-extraction model response.
func ExtractionReply() string {
	return `{
		"skills": [
			{"skill_name": "Go", "category": "Programming Languages", "experience_level": "advanced", "confidence_score": 5, "evidence_from_text": "8 years building distributed systems in Go", "context": "distributed systems"},
			{"skill_name": "Kubernetes", "category": "Infrastructure", "experience_level": "intermediate", "confidence_score": 4, "evidence_from_text": "Kubernetes operations", "context": "cluster operations"},
			{"skill_name": "PostgreSQL", "category": "Databases", "experience_level": "intermediate", "confidence_score": 4, "evidence_from_text": "PostgreSQL performance tuning", "context": "performance tuning"}
		],
		"categories": [
			{"name": "Programming Languages", "description": "Core languages", "priority": 1},
			{"name": "Infrastructure", "description": "Runtime platforms", "priority": 2},
			{"name": "Databases", "description": "Storage engines", "priority": 3}
		]
	}`
}

// QuestionsReply returns a model response with one question per skill name.
func QuestionsReply(skills ...string) string {
	items := make([]string, len(skills))
	for i, s := range skills {
		items[i] = fmt.Sprintf(`{
			"question_id": "%s_q%d",
			"question_text": "Walk through a hard %s problem you solved.",
			"question_type": "problem_solving",
			"targeted_skill": "%s",
			"difficulty_level": 3,
			"estimated_time_minutes": 10,
			"rationale": "Probes depth of real project experience."
		}`, strings.ToLower(strings.ReplaceAll(s, " ", "_")), i+1, s, s)
	}
	return `{"questions": [` + strings.Join(items, ",") + `]}`
}
