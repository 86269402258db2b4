package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jwebster45206/situation-engine/internal/handlers"
	"github.com/jwebster45206/situation-engine/internal/services/events"
	"github.com/jwebster45206/situation-engine/pkg/queue"
)

// apiClient talks to the situation engine HTTP API
type apiClient struct {
	baseURL string
	http    *http.Client
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// do sends body as JSON (when non-nil), checks the status and decodes the
// response into out (when non-nil)
func (c *apiClient) do(method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		var errorResp handlers.ErrorResponse
		if err := json.Unmarshal(raw, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(raw))
		}
		if errorResp.Code != "" {
			return fmt.Errorf("%s: %s", errorResp.Code, errorResp.Error)
		}
		return fmt.Errorf("%s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *apiClient) listSlots() ([]uuid.UUID, error) {
	var resp struct {
		Slots []uuid.UUID `json:"slots"`
	}
	if err := c.do(http.MethodGet, "/v1/slots", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Slots, nil
}

func (c *apiClient) createSlot(vars map[string]any) (*handlers.SlotResponse, error) {
	var slot handlers.SlotResponse
	req := handlers.CreateSlotRequest{Vars: vars}
	if err := c.do(http.MethodPost, "/v1/slots", req, http.StatusCreated, &slot); err != nil {
		return nil, fmt.Errorf("failed to create slot: %w", err)
	}
	return &slot, nil
}

func (c *apiClient) getSlot(id uuid.UUID, actorID string) (*handlers.SlotResponse, error) {
	var slot handlers.SlotResponse
	path := fmt.Sprintf("/v1/slots/%s?actor=%s", id, url.QueryEscape(actorID))
	if err := c.do(http.MethodGet, path, nil, http.StatusOK, &slot); err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

func (c *apiClient) sendCommand(cmd *queue.Command) (*handlers.CommandAccepted, error) {
	var accepted handlers.CommandAccepted
	path := fmt.Sprintf("/v1/slots/%s/commands", cmd.SlotID)
	if err := c.do(http.MethodPost, path, cmd, http.StatusAccepted, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// listenToEvents streams a slot's events into eventChan until ctx ends or
// the connection drops
func (c *apiClient) listenToEvents(ctx context.Context, slotID uuid.UUID, eventChan chan<- events.Event) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events/slots/" + slotID.String()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error reading event stream: %w", err)
		}
		select {
		case eventChan <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
