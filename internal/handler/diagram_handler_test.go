package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mermaidboard/internal/diagram"
	"github.com/hitoshi/mermaidboard/internal/middleware"
	"github.com/hitoshi/mermaidboard/internal/model"
)

// mockDiagramService はDiagramServiceInterfaceのテスト用モック。
type mockDiagramService struct {
	listFn       func(ctx context.Context, userID int64) ([]*model.Diagram, error)
	getFn        func(ctx context.Context, userID, id int64) (*model.Diagram, error)
	createFn     func(ctx context.Context, userID int64, in diagram.CreateInput) (*model.Diagram, error)
	updateFn     func(ctx context.Context, userID, id int64, patch model.DiagramPatch) (*model.Diagram, error)
	softDeleteFn func(ctx context.Context, userID, id int64) error
	restoreFn    func(ctx context.Context, userID, id int64) error
}

func (m *mockDiagramService) List(ctx context.Context, userID int64) ([]*model.Diagram, error) {
	return m.listFn(ctx, userID)
}

func (m *mockDiagramService) Get(ctx context.Context, userID, id int64) (*model.Diagram, error) {
	return m.getFn(ctx, userID, id)
}

func (m *mockDiagramService) Create(ctx context.Context, userID int64, in diagram.CreateInput) (*model.Diagram, error) {
	return m.createFn(ctx, userID, in)
}

func (m *mockDiagramService) Update(ctx context.Context, userID, id int64, patch model.DiagramPatch) (*model.Diagram, error) {
	return m.updateFn(ctx, userID, id, patch)
}

func (m *mockDiagramService) SoftDelete(ctx context.Context, userID, id int64) error {
	return m.softDeleteFn(ctx, userID, id)
}

func (m *mockDiagramService) Restore(ctx context.Context, userID, id int64) error {
	return m.restoreFn(ctx, userID, id)
}

// serveDiagram はchiのルーティングを通してハンドラーを呼び出す（URLパラメータの解決のため）。
func serveDiagram(fn http.HandlerFunc, method, pattern, target string, userID int64, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, fn)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != 0 {
		req = req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func testDiagram(id int64) *model.Diagram {
	thumb := "data:image/png;base64,AAAA"
	return &model.Diagram{
		ID:        id,
		UserID:    1,
		Title:     "Flow",
		Code:      "graph TD\n  A-->B",
		Thumbnail: &thumb,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestDiagramHandler_List(t *testing.T) {
	h := NewDiagramHandler(&mockDiagramService{
		listFn: func(ctx context.Context, userID int64) ([]*model.Diagram, error) {
			if userID != 1 {
				t.Errorf("userID = %d, want 1", userID)
			}
			return []*model.Diagram{testDiagram(2), testDiagram(1)}, nil
		},
	})

	rec := serveDiagram(h.List, http.MethodGet, "/api/diagrams", "/api/diagrams", 1, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Diagrams []map[string]any `json:"diagrams"`
	}
	decodeBody(t, rec, &body)
	if len(body.Diagrams) != 2 {
		t.Fatalf("len(diagrams) = %d, want 2", len(body.Diagrams))
	}
	for _, key := range []string{"id", "title", "code", "thumbnail", "created_at", "updated_at"} {
		if _, ok := body.Diagrams[0][key]; !ok {
			t.Errorf("diagram is missing %q", key)
		}
	}
	if _, ok := body.Diagrams[0]["user_id"]; ok {
		t.Error("user_id should not be exposed")
	}
}

func TestDiagramHandler_List_EmptyIsArray(t *testing.T) {
	h := NewDiagramHandler(&mockDiagramService{
		listFn: func(ctx context.Context, userID int64) ([]*model.Diagram, error) {
			return nil, nil
		},
	})

	rec := serveDiagram(h.List, http.MethodGet, "/api/diagrams", "/api/diagrams", 1, "")

	if got := strings.TrimSpace(rec.Body.String()); got != `{"diagrams":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestDiagramHandler_Get_InvalidID(t *testing.T) {
	called := false
	h := NewDiagramHandler(&mockDiagramService{
		getFn: func(ctx context.Context, userID, id int64) (*model.Diagram, error) {
			called = true
			return nil, nil
		},
	})

	for _, id := range []string{"abc", "0", "-3", "1.5", "99999999999999999999"} {
		rec := serveDiagram(h.Get, http.MethodGet, "/api/diagrams/{id}", "/api/diagrams/"+id, 1, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("id %q: status = %d, want 404", id, rec.Code)
		}
	}
	if called {
		t.Error("service should not be called for an invalid id")
	}
}

func TestDiagramHandler_Get_NotFound(t *testing.T) {
	h := NewDiagramHandler(&mockDiagramService{
		getFn: func(ctx context.Context, userID, id int64) (*model.Diagram, error) {
			return nil, model.NewDiagramNotFoundError()
		},
	})

	rec := serveDiagram(h.Get, http.MethodGet, "/api/diagrams/{id}", "/api/diagrams/5", 1, "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if got := errorMessage(t, rec); got != "Diagram not found" {
		t.Errorf("error = %q", got)
	}
}

func TestDiagramHandler_Create(t *testing.T) {
	var got diagram.CreateInput
	h := NewDiagramHandler(&mockDiagramService{
		createFn: func(ctx context.Context, userID int64, in diagram.CreateInput) (*model.Diagram, error) {
			got = in
			return testDiagram(10), nil
		},
	})

	rec := serveDiagram(h.Create, http.MethodPost, "/api/diagrams", "/api/diagrams", 1,
		`{"title":"Flow","code":"graph TD","thumbnail":"data:image/png;base64,AAAA"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got.Title != "Flow" || got.Code != "graph TD" || got.Thumbnail == nil || *got.Thumbnail != "data:image/png;base64,AAAA" {
		t.Errorf("input = %+v", got)
	}
	var body diagramBody
	decodeBody(t, rec, &body)
	if body.Diagram.ID != 10 {
		t.Errorf("diagram.id = %d, want 10", body.Diagram.ID)
	}
}

func TestDiagramHandler_Create_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"malformed json", `{"title":`, nil, http.StatusBadRequest, "Invalid JSON body"},
		{"validation", `{"title":"","code":"x"}`, model.NewValidationError("Title is required"), http.StatusBadRequest, "Title is required"},
		{"storage failure", `{"title":"t","code":"x"}`, errors.New("insert failed"), http.StatusInternalServerError, "Internal server error"},
		{"body too large", `{"title":"t","code":"` + strings.Repeat("a", maxBodyBytes) + `"}`, nil, http.StatusRequestEntityTooLarge, "Request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDiagramHandler(&mockDiagramService{
				createFn: func(ctx context.Context, userID int64, in diagram.CreateInput) (*model.Diagram, error) {
					return nil, tt.err
				},
			})

			rec := serveDiagram(h.Create, http.MethodPost, "/api/diagrams", "/api/diagrams", 1, tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := errorMessage(t, rec); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
		})
	}
}

func TestDiagramHandler_Update_PatchParsing(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, p model.DiagramPatch)
	}{
		{
			name: "thumbnail only",
			body: `{"thumbnail":"data:x"}`,
			check: func(t *testing.T, p model.DiagramPatch) {
				if p.Title.Set || p.Code.Set {
					t.Errorf("title/code should be absent: %+v", p)
				}
				if !p.Thumbnail.Set || p.Thumbnail.Value == nil || *p.Thumbnail.Value != "data:x" {
					t.Errorf("thumbnail = %+v", p.Thumbnail)
				}
			},
		},
		{
			name: "explicit null thumbnail",
			body: `{"thumbnail":null}`,
			check: func(t *testing.T, p model.DiagramPatch) {
				if !p.Thumbnail.Set || p.Thumbnail.Value != nil {
					t.Errorf("thumbnail should be set to null: %+v", p.Thumbnail)
				}
			},
		},
		{
			name: "title and code",
			body: `{"title":"New","code":"graph LR"}`,
			check: func(t *testing.T, p model.DiagramPatch) {
				if !p.Title.Set || p.Title.Value != "New" || !p.Code.Set || p.Code.Value != "graph LR" {
					t.Errorf("patch = %+v", p)
				}
				if p.Thumbnail.Set {
					t.Error("thumbnail should be absent")
				}
			},
		},
		{
			name: "empty object",
			body: `{}`,
			check: func(t *testing.T, p model.DiagramPatch) {
				if !p.Empty() {
					t.Errorf("patch should be empty: %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID int64
			var got model.DiagramPatch
			h := NewDiagramHandler(&mockDiagramService{
				updateFn: func(ctx context.Context, userID, id int64, patch model.DiagramPatch) (*model.Diagram, error) {
					gotID, got = id, patch
					return testDiagram(id), nil
				},
			})

			rec := serveDiagram(h.Update, http.MethodPut, "/api/diagrams/{id}", "/api/diagrams/42", 1, tt.body)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if gotID != 42 {
				t.Errorf("id = %d, want 42", gotID)
			}
			tt.check(t, got)
		})
	}
}

func TestDiagramHandler_DeleteAndRestore(t *testing.T) {
	deleteFn := func(h *DiagramHandler) http.HandlerFunc { return h.Delete }
	restoreFn := func(h *DiagramHandler) http.HandlerFunc { return h.Restore }

	tests := []struct {
		name        string
		method      string
		handler     func(*DiagramHandler) http.HandlerFunc
		pattern     string
		target      string
		err         error
		wantStatus  int
		wantMessage string
		wantError   string
	}{
		{"delete", http.MethodDelete, deleteFn, "/api/diagrams/{id}", "/api/diagrams/3", nil, http.StatusOK, "Diagram deleted successfully", ""},
		{"delete missing", http.MethodDelete, deleteFn, "/api/diagrams/{id}", "/api/diagrams/3", model.NewDiagramNotFoundError(), http.StatusNotFound, "", "Diagram not found"},
		{"restore", http.MethodPost, restoreFn, "/api/diagrams/{id}/restore", "/api/diagrams/3/restore", nil, http.StatusOK, "Diagram restored successfully", ""},
		{"restore not deleted", http.MethodPost, restoreFn, "/api/diagrams/{id}/restore", "/api/diagrams/3/restore", model.NewDeletedDiagramNotFoundError(), http.StatusNotFound, "", "Deleted diagram not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := func(ctx context.Context, userID, id int64) error {
				if id != 3 {
					t.Errorf("id = %d, want 3", id)
				}
				return tt.err
			}
			h := NewDiagramHandler(&mockDiagramService{softDeleteFn: fn, restoreFn: fn})

			rec := serveDiagram(tt.handler(h), tt.method, tt.pattern, tt.target, 1, "")

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if tt.wantMessage != "" && body["message"] != tt.wantMessage {
				t.Errorf("message = %q, want %q", body["message"], tt.wantMessage)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestDiagramHandler_RequiresUser(t *testing.T) {
	h := NewDiagramHandler(&mockDiagramService{})

	rec := serveDiagram(h.List, http.MethodGet, "/api/diagrams", "/api/diagrams", 0, "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
