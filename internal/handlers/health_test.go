package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jwebster45206/situation-engine/pkg/storage"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler_ServeHTTP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))

	healthy := pingFunc(func(ctx context.Context) error { return nil })

	tests := []struct {
		name           string
		setupStorage   func() *storage.MockStorage
		journal        Pinger
		expectedStatus int
		expectedHealth string
		expectedStore  string
		expectedIndex  string
	}{
		{
			name:           "all healthy",
			setupStorage:   storage.NewMockStorage,
			journal:        healthy,
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expectedStore:  "healthy",
			expectedIndex:  "healthy",
		},
		{
			name: "unhealthy storage",
			setupStorage: func() *storage.MockStorage {
				m := storage.NewMockStorage()
				m.SetPingError(errors.New("connection failed"))
				return m
			},
			journal:        healthy,
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "degraded",
			expectedStore:  "unhealthy",
			expectedIndex:  "healthy",
		},
		{
			name:         "unhealthy journal index",
			setupStorage: storage.NewMockStorage,
			journal: pingFunc(func(ctx context.Context) error {
				return errors.New("database is locked")
			}),
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "degraded",
			expectedStore:  "healthy",
			expectedIndex:  "unhealthy",
		},
		{
			name:           "no journal index configured",
			setupStorage:   storage.NewMockStorage,
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expectedStore:  "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(map[string]Pinger{
				"storage":       tt.setupStorage(),
				"journal_index": tt.journal,
			}, logger)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if rr.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected Content-Type application/json, got %s", rr.Header().Get("Content-Type"))
			}

			var response HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if response.Status != tt.expectedHealth {
				t.Errorf("Expected status '%s', got '%s'", tt.expectedHealth, response.Status)
			}
			if response.Service != "situation-engine" {
				t.Errorf("Expected service 'situation-engine', got '%s'", response.Service)
			}
			if got := response.Components["storage"]; got != tt.expectedStore {
				t.Errorf("Expected storage status '%s', got '%v'", tt.expectedStore, got)
			}

			index, exists := response.Components["journal_index"]
			if tt.expectedIndex == "" {
				if exists {
					t.Errorf("Expected no journal_index component, got %v", index)
				}
			} else if index != tt.expectedIndex {
				t.Errorf("Expected journal_index status '%s', got '%v'", tt.expectedIndex, index)
			}

			if diff := time.Since(response.Timestamp); diff > time.Second {
				t.Errorf("Health check timestamp seems old: %v", diff)
			}
		})
	}
}
