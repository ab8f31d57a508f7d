package control

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/scenemix/internal/config"
)

// fakeToken is an mqtt.Token that always succeeds immediately.
type fakeToken struct{}

func (fakeToken) Wait() bool { return true }

func (fakeToken) WaitTimeout(time.Duration) bool { return true }

func (fakeToken) Error() error { return nil }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishRecord struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes. Methods the tests never hit are left to the
// embedded nil interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	published []publishRecord
}

func (f *fakeClient) IsConnected() bool { return true }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishRecord{
		topic:   topic,
		qos:     qos,
		payload: payload.([]byte),
	})
	return fakeToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return fakeToken{} }

func (f *fakeClient) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeClient) lastResponse(t *testing.T) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		t.Fatal("Expected a published response")
	}
	var resp Response
	if err := json.Unmarshal(f.published[len(f.published)-1].payload, &resp); err != nil {
		t.Fatalf("Response unmarshal failed: %v", err)
	}
	return resp
}

// fakeMessage is an inbound mqtt.Message carrying just a payload.
type fakeMessage struct{ payload []byte }

func (fakeMessage) Duplicate() bool   { return false }
func (fakeMessage) Qos() byte         { return 1 }
func (fakeMessage) Retained() bool    { return false }
func (fakeMessage) Topic() string     { return "scenemix/test/command" }
func (fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte { return m.payload }
func (fakeMessage) Ack()              {}

func testConfig() *config.Config {
	return &config.Config{
		InstanceID: "test",
		MQTT: config.MQTTConfig{
			Broker: "localhost:1883",
			Topics: config.TopicConfig{
				Command:  "scenemix/test/command",
				Response: "scenemix/test/response",
				Events:   "scenemix/test/events",
			},
		},
	}
}

func newTestHandler(callbacks CommandCallbacks) (*Handler, *fakeClient) {
	client := &fakeClient{}
	return NewHandler(testConfig(), client, callbacks), client
}

// TestHandleApplyScene verifies the apply_scene command invokes the callback
// and acknowledges with its data.
func TestHandleApplyScene(t *testing.T) {
	var gotScene string
	h, client := newTestHandler(CommandCallbacks{
		OnApplyScene: func(sceneID string) (map[string]interface{}, error) {
			gotScene = sceneID
			return map[string]interface{}{"mode": "fast_path"}, nil
		},
	})

	h.handleCommand(Command{
		Command: "apply_scene",
		Params:  map[string]interface{}{"scene_id": "pip"},
	})

	if gotScene != "pip" {
		t.Errorf("Expected callback with scene pip, got %q", gotScene)
	}
	resp := client.lastResponse(t)
	if resp.CommandAck != "apply_scene" || resp.Status != "success" {
		t.Errorf("Expected apply_scene success, got %s/%s", resp.CommandAck, resp.Status)
	}
	if resp.Data["mode"] != "fast_path" {
		t.Errorf("Expected mode in response data, got %v", resp.Data)
	}
	if resp.Timestamp == "" {
		t.Error("Expected a timestamp on the response")
	}
}

// TestHandleApplySceneMissingParam verifies a bad request is rejected
// without invoking the callback.
func TestHandleApplySceneMissingParam(t *testing.T) {
	called := false
	h, client := newTestHandler(CommandCallbacks{
		OnApplyScene: func(string) (map[string]interface{}, error) {
			called = true
			return nil, nil
		},
	})

	h.handleCommand(Command{Command: "apply_scene"})

	if called {
		t.Error("Expected callback not invoked without scene_id")
	}
	resp := client.lastResponse(t)
	if resp.Status != "error" {
		t.Errorf("Expected error status, got %s", resp.Status)
	}
}

// TestHandleApplySceneCallbackError verifies callback failures surface in
// the response.
func TestHandleApplySceneCallbackError(t *testing.T) {
	h, client := newTestHandler(CommandCallbacks{
		OnApplyScene: func(string) (map[string]interface{}, error) {
			return nil, errors.New("rebuilds suspended")
		},
	})

	h.handleCommand(Command{
		Command: "apply_scene",
		Params:  map[string]interface{}{"scene_id": "pip"},
	})

	resp := client.lastResponse(t)
	if resp.Status != "error" || resp.Error != "rebuilds suspended" {
		t.Errorf("Expected callback error in response, got %s/%q", resp.Status, resp.Error)
	}
}

// TestHandleSetSourceLive verifies parameter extraction for the two-argument
// command.
func TestHandleSetSourceLive(t *testing.T) {
	var gotID string
	var gotLive bool
	h, client := newTestHandler(CommandCallbacks{
		OnSetSourceLive: func(id string, live bool) error {
			gotID = id
			gotLive = live
			return nil
		},
	})

	h.handleCommand(Command{
		Command: "set_source_live",
		Params:  map[string]interface{}{"source_id": "cam-a", "live": true},
	})

	if gotID != "cam-a" || !gotLive {
		t.Errorf("Expected cam-a live, got %q %v", gotID, gotLive)
	}
	if resp := client.lastResponse(t); resp.Status != "success" {
		t.Errorf("Expected success, got %s", resp.Status)
	}
}

// TestHandleUnknownCommand verifies unrecognized commands are acknowledged
// as errors.
func TestHandleUnknownCommand(t *testing.T) {
	h, client := newTestHandler(CommandCallbacks{})

	h.handleCommand(Command{Command: "reboot_universe"})

	resp := client.lastResponse(t)
	if resp.Status != "error" {
		t.Errorf("Expected error status, got %s", resp.Status)
	}
}

// TestHandleNotImplemented verifies commands without a wired callback report
// so instead of panicking.
func TestHandleNotImplemented(t *testing.T) {
	h, client := newTestHandler(CommandCallbacks{})

	h.handleCommand(Command{Command: "get_status"})

	resp := client.lastResponse(t)
	if resp.Status != "error" {
		t.Errorf("Expected error status, got %s", resp.Status)
	}
}

// TestHandleShutdown verifies the acknowledgement is published before the
// shutdown callback runs.
func TestHandleShutdown(t *testing.T) {
	shutdownCalled := make(chan struct{})
	h, client := newTestHandler(CommandCallbacks{
		OnShutdown: func() error {
			close(shutdownCalled)
			return nil
		},
	})

	h.handleCommand(Command{Command: "shutdown"})

	resp := client.lastResponse(t)
	if resp.Status != "success" {
		t.Fatalf("Expected success ack before shutdown, got %s", resp.Status)
	}

	select {
	case <-shutdownCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for shutdown callback")
	}
}

// TestMessageHandlerInvalidJSON verifies malformed payloads get an error
// response instead of being queued.
func TestMessageHandlerInvalidJSON(t *testing.T) {
	h, client := newTestHandler(CommandCallbacks{})

	h.messageHandler(nil, fakeMessage{payload: []byte("{not json")})

	resp := client.lastResponse(t)
	if resp.CommandAck != "unknown" || resp.Status != "error" {
		t.Errorf("Expected unknown/error response, got %s/%s", resp.CommandAck, resp.Status)
	}

	select {
	case cmd := <-h.commands:
		t.Errorf("Expected nothing queued, got %v", cmd)
	default:
	}
}

// TestMessageHandlerEnqueues verifies valid commands land on the queue.
func TestMessageHandlerEnqueues(t *testing.T) {
	h, client := newTestHandler(CommandCallbacks{})

	h.messageHandler(nil, fakeMessage{payload: []byte(`{"command":"get_status"}`)})

	select {
	case cmd := <-h.commands:
		if cmd.Command != "get_status" {
			t.Errorf("Expected get_status queued, got %q", cmd.Command)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for queued command")
	}
	if client.publishCount() != 0 {
		t.Errorf("Expected no response until processing, got %d", client.publishCount())
	}
}
