package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalStorage "github.com/jwebster45206/situation-engine/internal/storage"
	"github.com/jwebster45206/situation-engine/pkg/content"
	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/queue"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	"github.com/jwebster45206/situation-engine/pkg/storage"
	"github.com/jwebster45206/situation-engine/pkg/world"
)

type fakeQueue struct {
	queued    []*queue.Command
	published []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, cmd *queue.Command) error {
	f.queued = append(f.queued, cmd)
	return nil
}

func (f *fakeQueue) PublishCommandQueued(ctx context.Context, slotID uuid.UUID, requestID string, commandType string) error {
	f.published = append(f.published, requestID)
	return nil
}

type slotsFixture struct {
	handler *SlotsHandler
	store   *storage.MockStorage
	queue   *fakeQueue
	log     *slog.Logger
}

func setupSlots(t *testing.T) *slotsFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	loader, err := content.NewLoader(log)
	require.NoError(t, err)
	packs, err := loader.LoadDir("../../data/packs")
	require.NoError(t, err)
	reg := engine.NewRegistry(log)
	require.Empty(t, content.Register(reg, packs...))

	idx, err := internalStorage.OpenJournalIndex(filepath.Join(t.TempDir(), "journal.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	store := storage.NewMockStorage()
	q := &fakeQueue{}
	h := NewSlotsHandler(store, reg, engine.DefaultConfig(), loadTestRoster(t), idx, q, q, log)
	return &slotsFixture{handler: h, store: store, queue: q, log: log}
}

func (f *slotsFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *slotsFixture) create(t *testing.T) SlotResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/slots", CreateSlotRequest{
		Vars: map[string]any{"days_in_location": 3, "season": "spring"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp SlotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

// discover plays the overheard corridor conversation straight into storage
func (f *slotsFixture) discover(t *testing.T, slotID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	slot, err := f.store.LoadSlot(ctx, slotID)
	require.NoError(t, err)
	w := world.FromState(slot.World, f.log)
	e, err := engine.Restore(slot.Engine, engine.DefaultConfig(), w, nil, w)
	require.NoError(t, err)
	res := e.NotifyDiscovery(situation.MethodOverheard, "corridor", "lost_keys")
	require.Len(t, res.Revealed, 1)
	slot.Engine = e.Snapshot()
	require.NoError(t, f.store.SaveSlot(ctx, slot))
}

func TestSlotsHandler_CreateListReadDelete(t *testing.T) {
	f := setupSlots(t)
	created := f.create(t)
	assert.Equal(t, 1, created.Situations)
	require.NotEmpty(t, created.Journal)
	assert.Equal(t, engine.EntrySpawned, created.Journal[0].Kind)
	assert.Empty(t, created.Active, "nothing is known until discovered")
	assert.Equal(t, "day 0 00:00", created.Clock)

	rr := f.do(t, http.MethodGet, "/v1/slots", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Slots []uuid.UUID `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, []uuid.UUID{created.ID}, list.Slots)

	rr = f.do(t, http.MethodGet, "/v1/slots/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodDelete, "/v1/slots/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, http.MethodGet, "/v1/slots/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSlotsHandler_CreateRejectsBadVars(t *testing.T) {
	f := setupSlots(t)
	rr := f.do(t, http.MethodPost, "/v1/slots", map[string]any{
		"vars": map[string]any{"weird": map[string]any{"nested": true}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/slots", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSlotsHandler_Situations(t *testing.T) {
	f := setupSlots(t)
	created := f.create(t)
	base := "/v1/slots/" + created.ID.String()

	f.discover(t, created.ID)

	rr := f.do(t, http.MethodGet, base+"/situations?actor=player", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Situations []engine.SituationSummary `json:"situations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Situations, 1)
	summary := list.Situations[0]
	assert.Equal(t, "lost_keys", summary.SeedID)
	assert.Equal(t, "The Lost Keys", summary.Name)

	rr = f.do(t, http.MethodGet, base+"/situations/"+summary.ID+"?actor=player", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var detail SituationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, summary.ID, detail.Situation.ID)
	assert.NotEmpty(t, detail.Clues)
	available := map[string]bool{}
	for _, b := range detail.Branches {
		available[b.ID] = b.Available
	}
	assert.True(t, available["return_keys"])
	assert.False(t, available["sell_keys"])

	rr = f.do(t, http.MethodGet, base+"/situations/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, string(situation.CodeUnknownSituation), errResp.Code)
}

func TestSlotsHandler_Journal(t *testing.T) {
	f := setupSlots(t)
	created := f.create(t)
	base := "/v1/slots/" + created.ID.String() + "/journal"

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{"everything", "", http.StatusOK, len(created.Journal)},
		{"by kind", "?kind=spawned", http.StatusOK, 1},
		{"after the last entry", "?after=100", http.StatusOK, 0},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"bad after", "?after=soon", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-2", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, base+tt.query, nil)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp struct {
				Entries []engine.JournalEntry `json:"entries"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Len(t, resp.Entries, tt.wantCount)
		})
	}
}

func TestSlotsHandler_Commands(t *testing.T) {
	f := setupSlots(t)
	created := f.create(t)
	base := "/v1/slots/" + created.ID.String()

	rr := f.do(t, http.MethodPost, base+"/commands", map[string]any{
		"type": "advance",
		"by":   "2h",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var accepted CommandAccepted
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	assert.Equal(t, "queued", accepted.Status)
	require.Len(t, f.queue.queued, 1)
	assert.Equal(t, created.ID, f.queue.queued[0].SlotID)
	assert.Equal(t, 2*situation.Hour, f.queue.queued[0].By)
	assert.Equal(t, []string{accepted.RequestID}, f.queue.published)

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
	}{
		{"invalid command", base + "/commands", map[string]any{"type": "resolve"}, http.StatusBadRequest},
		{"unknown type", base + "/commands", map[string]any{"type": "teleport"}, http.StatusBadRequest},
		{"unknown slot", "/v1/slots/" + uuid.NewString() + "/commands", map[string]any{"type": "advance", "by": 60}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
	assert.Len(t, f.queue.queued, 1, "rejected commands are never queued")

	f.handler.commands = nil
	rr = f.do(t, http.MethodPost, base+"/commands", map[string]any{"type": "advance", "by": 60})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSlotsHandler_Routing(t *testing.T) {
	f := setupSlots(t)
	id := uuid.NewString()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"bad slot id", http.MethodGet, "/v1/slots/not-a-uuid", http.StatusBadRequest},
		{"put collection", http.MethodPut, "/v1/slots", http.StatusMethodNotAllowed},
		{"post to slot", http.MethodPost, "/v1/slots/" + id, http.StatusMethodNotAllowed},
		{"get commands", http.MethodGet, "/v1/slots/" + id + "/commands", http.StatusMethodNotAllowed},
		{"too deep", http.MethodGet, "/v1/slots/" + id + "/situations/a/b", http.StatusNotFound},
		{"missing slot", http.MethodGet, "/v1/slots/" + id + "/situations", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}
}
