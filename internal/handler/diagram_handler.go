package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mermaidboard/internal/diagram"
	"github.com/hitoshi/mermaidboard/internal/middleware"
	"github.com/hitoshi/mermaidboard/internal/model"
)

// DiagramServiceInterface はダイアグラムハンドラーが必要とするサービスインターフェース。
type DiagramServiceInterface interface {
	List(ctx context.Context, userID int64) ([]*model.Diagram, error)
	Get(ctx context.Context, userID, id int64) (*model.Diagram, error)
	Create(ctx context.Context, userID int64, in diagram.CreateInput) (*model.Diagram, error)
	Update(ctx context.Context, userID, id int64, patch model.DiagramPatch) (*model.Diagram, error)
	SoftDelete(ctx context.Context, userID, id int64) error
	Restore(ctx context.Context, userID, id int64) error
}

// DiagramHandler はダイアグラム管理のHTTPハンドラー。
type DiagramHandler struct {
	service DiagramServiceInterface
}

// NewDiagramHandler はDiagramHandlerを生成する。
func NewDiagramHandler(service DiagramServiceInterface) *DiagramHandler {
	return &DiagramHandler{service: service}
}

// diagramResponse はダイアグラムのAPIレスポンス形式。
type diagramResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Code      string    `json:"code"`
	Thumbnail *string   `json:"thumbnail"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDiagramResponse(d *model.Diagram) diagramResponse {
	return diagramResponse{
		ID:        d.ID,
		Title:     d.Title,
		Code:      d.Code,
		Thumbnail: d.Thumbnail,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type createDiagramRequest struct {
	Title     string  `json:"title"`
	Code      string  `json:"code"`
	Thumbnail *string `json:"thumbnail"`
}

// updateDiagramRequest はキーの有無で更新対象を判定する。
type updateDiagramRequest struct {
	Title     model.Optional[string]  `json:"title"`
	Code      model.Optional[string]  `json:"code"`
	Thumbnail model.Optional[*string] `json:"thumbnail"`
}

// List はダイアグラム一覧を返す。
// GET /api/diagrams
func (h *DiagramHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	diagrams, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]diagramResponse, len(diagrams))
	for i, d := range diagrams {
		resp[i] = toDiagramResponse(d)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string][]diagramResponse{"diagrams": resp})
}

// Get はダイアグラムを1件返す。
// GET /api/diagrams/{id}
func (h *DiagramHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := requireUserAndDiagramID(w, r)
	if !ok {
		return
	}

	d, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeDiagram(w, http.StatusOK, d)
}

// Create はダイアグラムを作成する。
// POST /api/diagrams
func (h *DiagramHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createDiagramRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	d, err := h.service.Create(r.Context(), userID, diagram.CreateInput{
		Title:     req.Title,
		Code:      req.Code,
		Thumbnail: req.Thumbnail,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeDiagram(w, http.StatusCreated, d)
}

// Update は指定されたフィールドのみ更新する。
// PUT /api/diagrams/{id}
func (h *DiagramHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := requireUserAndDiagramID(w, r)
	if !ok {
		return
	}

	var req updateDiagramRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	d, err := h.service.Update(r.Context(), userID, id, model.DiagramPatch{
		Title:     req.Title,
		Code:      req.Code,
		Thumbnail: req.Thumbnail,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeDiagram(w, http.StatusOK, d)
}

// Delete はダイアグラムを論理削除する。
// DELETE /api/diagrams/{id}
func (h *DiagramHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := requireUserAndDiagramID(w, r)
	if !ok {
		return
	}

	if err := h.service.SoftDelete(r.Context(), userID, id); err != nil {
		handleServiceError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "Diagram deleted successfully")
}

// Restore は論理削除されたダイアグラムを復元する。
// POST /api/diagrams/{id}/restore
func (h *DiagramHandler) Restore(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := requireUserAndDiagramID(w, r)
	if !ok {
		return
	}

	if err := h.service.Restore(r.Context(), userID, id); err != nil {
		handleServiceError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "Diagram restored successfully")
}

func writeDiagram(w http.ResponseWriter, statusCode int, d *model.Diagram) {
	middleware.WriteJSON(w, statusCode, map[string]diagramResponse{"diagram": toDiagramResponse(d)})
}

func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
		return 0, false
	}
	return userID, true
}

// requireUserAndDiagramID はユーザーIDとURLのダイアグラムIDを取り出す。
// IDが正の整数でない場合は該当ルートがないものとして404を返す。
func requireUserAndDiagramID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return 0, 0, false
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
		return 0, 0, false
	}
	return userID, id, true
}
