package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skillstream/skillstream/internal/bridge"
	"github.com/skillstream/skillstream/internal/stream"
	"github.com/skillstream/skillstream/model"
)

func wsURL(server *httptest.Server, taskID string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/tasks/" + taskID + "/stream"
}

func dialStream(t *testing.T, server *httptest.Server, taskID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, taskID), nil)
	if err != nil {
		t.Fatalf("dialing stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) stream.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg stream.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return msg
}

func TestStream_baselineSnapshot(t *testing.T) {
	deps := testDeps(t)
	server := httptest.NewServer(NewRouter(deps))
	defer server.Close()

	seedTask(t, deps, model.Task{
		ID:          "ws-task-1",
		Status:      model.TaskStatusInProgress,
		Progress:    40,
		CurrentStep: "Evaluating Questions",
		TotalSteps:  model.TotalSteps,
		StartedAt:   time.Now().Add(-time.Minute),
	})

	conn := dialStream(t, server, "ws-task-1")

	msg := readMessage(t, conn)
	if msg.Kind != stream.KindProgressUpdate {
		t.Fatalf("first frame kind = %q, want progress_update", msg.Kind)
	}
	if msg.Progress != 40 || msg.CurrentStep != "Evaluating Questions" {
		t.Errorf("baseline = %d %q", msg.Progress, msg.CurrentStep)
	}
}

func TestStream_unknownTaskFailsHandshake(t *testing.T) {
	deps := testDeps(t)
	server := httptest.NewServer(NewRouter(deps))
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "absent"), nil)
	if err == nil {
		t.Fatal("handshake should fail for an unknown task")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("handshake status = %v, want 404", resp)
	}
}

func TestStream_perTaskCapClosesWith4009(t *testing.T) {
	deps := testDeps(t)
	deps.Config.Stream.MaxConnectionsPerTask = 1
	deps.Manager = stream.NewManager(bridge.NewMemoryBroker(), deps.Store, deps.Logger, deps.Metrics, deps.Config.Stream)
	t.Cleanup(deps.Manager.Shutdown)
	server := httptest.NewServer(NewRouter(deps))
	defer server.Close()

	seedTask(t, deps, model.Task{
		ID:     "ws-cap-task",
		Status: model.TaskStatusInProgress,
	})

	first := dialStream(t, server, "ws-cap-task")
	readMessage(t, first) // baseline, connection is live

	second := dialStream(t, server, "ws-cap-task")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != closeCodeTaskConnectionLimit {
		t.Errorf("close code = %d, want %d", closeErr.Code, closeCodeTaskConnectionLimit)
	}
}

func TestStream_globalCapClosesWith4008(t *testing.T) {
	deps := testDeps(t)
	deps.Config.Stream.MaxConnections = 1
	deps.Manager = stream.NewManager(bridge.NewMemoryBroker(), deps.Store, deps.Logger, deps.Metrics, deps.Config.Stream)
	t.Cleanup(deps.Manager.Shutdown)
	server := httptest.NewServer(NewRouter(deps))
	defer server.Close()

	seedTask(t, deps, model.Task{ID: "ws-g1", Status: model.TaskStatusInProgress})
	seedTask(t, deps, model.Task{ID: "ws-g2", Status: model.TaskStatusInProgress})

	first := dialStream(t, server, "ws-g1")
	readMessage(t, first)

	second := dialStream(t, server, "ws-g2")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != closeCodeConnectionLimit {
		t.Errorf("close code = %d, want %d", closeErr.Code, closeCodeConnectionLimit)
	}
}

func TestStream_receivesProgressAndCompletion(t *testing.T) {
	deps := testDeps(t)
	server := httptest.NewServer(NewRouter(deps))
	defer server.Close()

	seedTask(t, deps, model.Task{
		ID:          "ws-live-task",
		Status:      model.TaskStatusInProgress,
		Progress:    20,
		CurrentStep: "Generating Questions",
		StartedAt:   time.Now(),
	})

	conn := dialStream(t, server, "ws-live-task")
	readMessage(t, conn) // baseline

	ctx := context.Background()
	deps.Store.Advance(ctx, "ws-live-task", 60, "Creating Guidance")

	msg := readMessage(t, conn)
	if msg.Kind != stream.KindProgressUpdate || msg.Progress != 60 {
		t.Fatalf("frame = %+v, want progress_update at 60", msg)
	}

	deps.Store.Complete(ctx, "ws-live-task", &model.Report{PositionTitle: "Engineer"})

	// The poll loop emits the terminal progress frame then the completion
	// frame; tolerate either arriving first frame after completion.
	var completed *stream.Message
	for i := 0; i < 3; i++ {
		m := readMessage(t, conn)
		if m.Kind == stream.KindTaskCompleted {
			completed = &m
			break
		}
	}
	if completed == nil {
		t.Fatal("never received a task_completed frame")
	}
	if completed.Result == nil || completed.Result.PositionTitle != "Engineer" {
		t.Errorf("completion result = %+v", completed.Result)
	}

	// After the grace delay the server closes the connection normally.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if closeErr, ok := err.(*websocket.CloseError); !ok || closeErr.Code != websocket.CloseNormalClosure {
		t.Errorf("expected normal closure after grace delay, got %v", err)
	}
}

func TestStream_detachFreesCapacity(t *testing.T) {
	deps := testDeps(t)
	deps.Config.Stream.MaxConnectionsPerTask = 1
	server := httptest.NewServer(NewRouter(deps))
	defer server.Close()

	seedTask(t, deps, model.Task{ID: "ws-free-task", Status: model.TaskStatusInProgress})

	first := dialStream(t, server, "ws-free-task")
	readMessage(t, first)
	first.Close()

	// The manager needs a moment to observe the disconnect.
	deadline := time.Now().Add(2 * time.Second)
	for deps.Manager.ActiveConnections() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was never detached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := dialStream(t, server, "ws-free-task")
	msg := readMessage(t, second)
	if msg.Kind != stream.KindProgressUpdate {
		t.Errorf("second attach should succeed, got %+v", msg)
	}
}
