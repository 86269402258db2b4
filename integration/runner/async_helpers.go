package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jwebster45206/situation-engine/internal/handlers"
	"github.com/jwebster45206/situation-engine/internal/services/events"
	"github.com/jwebster45206/situation-engine/pkg/queue"
)

const (
	// CommandTimeout is max time to wait for a queued command to settle
	CommandTimeout = 30 * time.Second
	// ConnectTimeout is max time to wait for the event stream handshake
	ConnectTimeout = 10 * time.Second
)

// PostCommandAsync posts a command to the slot's queue and returns the request_id
func PostCommandAsync(ctx context.Context, client *http.Client, baseURL string, cmd *queue.Command) (string, error) {
	reqBody, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/slots/%s/commands", baseURL, cmd.SlotID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send command request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("commands endpoint returned %d (expected 202): %s", resp.StatusCode, string(body))
	}

	var accepted handlers.CommandAccepted
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("failed to decode command response: %w", err)
	}
	return accepted.RequestID, nil
}

// GetSlot fetches the slot summary as seen by actorID
func GetSlot(ctx context.Context, client *http.Client, baseURL string, slotID uuid.UUID, actorID string) (*handlers.SlotResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/slots/%s?actor=%s", baseURL, slotID, url.QueryEscape(actorID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create slot request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("slot endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var slot handlers.SlotResponse
	if err := json.NewDecoder(resp.Body).Decode(&slot); err != nil {
		return nil, fmt.Errorf("failed to decode slot: %w", err)
	}
	return &slot, nil
}

// Settled is what a command left behind on the event stream
type Settled struct {
	Failed  bool
	Code    string
	Message string
	Journal []string
}

// EventStream follows one slot's websocket events
type EventStream struct {
	conn   *websocket.Conn
	events chan events.Event
	errs   chan error
}

// DialEvents opens the slot's event stream and waits for the handshake
// event, so commands posted afterwards are never missed
func DialEvents(ctx context.Context, baseURL string, slotID uuid.UUID) (*EventStream, error) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/v1/events/slots/" + slotID.String()
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(ConnectTimeout))
	var hello events.Event
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read stream handshake: %w", err)
	}
	if hello.Type != "connected" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first event %q", hello.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &EventStream{
		conn:   conn,
		events: make(chan events.Event, 64),
		errs:   make(chan error, 1),
	}
	go s.read()
	return s, nil
}

func (s *EventStream) read() {
	for {
		var ev events.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.errs <- err
			close(s.events)
			return
		}
		s.events <- ev
	}
}

// WaitForCommand collects journal entries for requestID until the command
// completes or fails
func (s *EventStream) WaitForCommand(ctx context.Context, requestID string) (*Settled, error) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	settled := &Settled{}
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for command %s", requestID)
		case ev, ok := <-s.events:
			if !ok {
				return nil, fmt.Errorf("event stream closed: %w", <-s.errs)
			}
			if ev.RequestID != requestID {
				continue
			}
			switch ev.Type {
			case events.EventTypeJournalEntry:
				if kind, ok := ev.Data["kind"].(string); ok {
					settled.Journal = append(settled.Journal, kind)
				}
			case events.EventTypeCommandCompleted:
				return settled, nil
			case events.EventTypeCommandFailed:
				settled.Failed = true
				settled.Code, _ = ev.Data["code"].(string)
				settled.Message, _ = ev.Data["error"].(string)
				return settled, nil
			}
		}
	}
}

// Close ends the stream
func (s *EventStream) Close() error {
	return s.conn.Close()
}
