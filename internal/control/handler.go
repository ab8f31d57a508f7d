// Package control implements the MQTT control plane: command handling on
// the command topic, acknowledgements on the response topic, and operator
// event emission.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/scenemix/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnApplyScene       func(sceneID string) (map[string]interface{}, error)
	OnGetStatus        func() map[string]interface{}
	OnListScenes       func() (map[string]interface{}, error)
	OnPutScene         func(params map[string]interface{}) error
	OnRegisterSource   func(id, kind string) error
	OnUnregisterSource func(id string) error
	OnSetSourceLive    func(id string, live bool) error
	OnResetBreaker     func() error
	OnReclaimPads      func() (map[string]interface{}, error)
	OnShutdown         func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the command topic and begins processing
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Command
	qos := h.cfg.MQTT.QoS.Command

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes and stops the handler
func (h *Handler) Stop() error {
	topic := h.cfg.MQTT.Topics.Command

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "apply_scene":
		if h.callbacks.OnApplyScene != nil {
			sceneID, ok := cmd.Params["scene_id"].(string)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'scene_id' parameter (expected string)"
			} else {
				data, err := h.callbacks.OnApplyScene(sceneID)
				if err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = data
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "apply_scene not implemented"
		}

	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "list_scenes":
		if h.callbacks.OnListScenes != nil {
			data, err := h.callbacks.OnListScenes()
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = data
			}
		} else {
			resp.Status = "error"
			resp.Error = "list_scenes not implemented"
		}

	case "put_scene":
		if h.callbacks.OnPutScene != nil {
			if err := h.callbacks.OnPutScene(cmd.Params); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"scene_stored": true,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "put_scene not implemented"
		}

	case "register_source":
		if h.callbacks.OnRegisterSource != nil {
			id, ok := cmd.Params["source_id"].(string)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'source_id' parameter (expected string)"
			} else {
				kind, _ := cmd.Params["kind"].(string) // empty kind is allowed
				if err := h.callbacks.OnRegisterSource(id, kind); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"source_id":  id,
						"registered": true,
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "register_source not implemented"
		}

	case "unregister_source":
		if h.callbacks.OnUnregisterSource != nil {
			id, ok := cmd.Params["source_id"].(string)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'source_id' parameter (expected string)"
			} else {
				if err := h.callbacks.OnUnregisterSource(id); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"source_id":  id,
						"registered": false,
						"message":    "pads for this source are kept until reclaimed",
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "unregister_source not implemented"
		}

	case "set_source_live":
		if h.callbacks.OnSetSourceLive != nil {
			id, okID := cmd.Params["source_id"].(string)
			live, okLive := cmd.Params["live"].(bool)
			if !okID || !okLive {
				resp.Status = "error"
				resp.Error = "expected 'source_id' (string) and 'live' (bool) parameters"
			} else {
				if err := h.callbacks.OnSetSourceLive(id, live); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"source_id": id,
						"live":      live,
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "set_source_live not implemented"
		}

	case "reset_breaker":
		if h.callbacks.OnResetBreaker != nil {
			if err := h.callbacks.OnResetBreaker(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"breaker_open": false,
					"message":      "rebuilds resumed",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "reset_breaker not implemented"
		}

	case "reclaim_pads":
		if h.callbacks.OnReclaimPads != nil {
			data, err := h.callbacks.OnReclaimPads()
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = data
			}
		} else {
			resp.Status = "error"
			resp.Error = "reclaim_pads not implemented"
		}

	case "shutdown":
		if h.callbacks.OnShutdown != nil {
			slog.Warn("shutdown command received via MQTT control plane")
			resp.Status = "success"
			resp.Data = map[string]interface{}{
				"shutdown_initiated": true,
				"message":            "graceful shutdown in progress",
			}
			// Send response BEFORE triggering shutdown
			h.sendResponse(resp)

			go func() {
				time.Sleep(500 * time.Millisecond) // let the response leave first
				if err := h.callbacks.OnShutdown(); err != nil {
					slog.Error("shutdown callback failed", "error", err)
				}
			}()
			return // response already sent
		}
		resp.Status = "error"
		resp.Error = "shutdown not implemented"

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// sendResponse publishes a response on the response topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Response
	qos := h.cfg.MQTT.QoS.Response

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
