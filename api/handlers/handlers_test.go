package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/shared-grid/backend/internal/model"
	"github.com/shared-grid/backend/internal/table"
	"github.com/shared-grid/backend/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEditLister struct {
	gotLimit int
	edits    []*model.Edit
}

func (f *fakeEditLister) ListRecent(ctx context.Context, tableID string, limit int) ([]*model.Edit, error) {
	f.gotLimit = limit
	return f.edits, nil
}

func newTestRouter(edits EditLister) (*gin.Engine, *ws.Service) {
	store := table.NewStore(table.Config{Rows: 2, Cols: 2}, nil)
	service := ws.NewService(store, nil, ws.Config{SupportedTables: []string{"default_table"}}, nil)
	return NewRouter(service, edits, nil), service
}

func doRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(nil)

	w := doRequest(router, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Status      string `json:"status"`
		Tables      int    `json:"tables"`
		Connections int    `json:"connections"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "ok" || body.Connections != 0 {
		t.Errorf("unexpected health body: %s", w.Body.String())
	}
}

func TestRoot(t *testing.T) {
	router, _ := newTestRouter(nil)

	w := doRequest(router, http.MethodGet, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGetTable(t *testing.T) {
	router, service := newTestRouter(nil)
	service.Store().ApplyCellUpdates("default_table", []model.CellUpdate{{RowIndex: 1, ColIndex: 0, Value: "v"}})

	w := doRequest(router, http.MethodGet, "/api/tables/default_table")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp TableResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.State != `[["",""],["v",""]]` {
		t.Errorf("unexpected state %s", resp.State)
	}

	w = doRequest(router, http.MethodGet, "/api/tables/unknown")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unsupported table, got %d", w.Code)
	}
}

func TestListEdits(t *testing.T) {
	row, col := 0, 1
	lister := &fakeEditLister{edits: []*model.Edit{{ID: 1, TableID: "default_table", Kind: model.EditKindCell, RowIndex: &row, ColIndex: &col, Value: "x"}}}
	router, _ := newTestRouter(lister)

	w := doRequest(router, http.MethodGet, "/api/tables/default_table/edits?limit=7")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if lister.gotLimit != 7 {
		t.Errorf("expected limit 7, got %d", lister.gotLimit)
	}

	var resp EditsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp.Edits) != 1 || resp.Edits[0].Value != "x" {
		t.Errorf("unexpected edits: %s", w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/api/tables/default_table/edits?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestListEditsJournalDisabled(t *testing.T) {
	router, _ := newTestRouter(nil)

	w := doRequest(router, http.MethodGet, "/api/tables/default_table/edits")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(nil)

	w := doRequest(router, http.MethodOptions, "/health")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}
