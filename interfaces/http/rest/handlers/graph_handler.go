package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lessonmap-backend/application/commit"
	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/interfaces/http/rest/middleware"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// GraphHandler handles graph-related HTTP requests
type GraphHandler struct {
	base
	engine *commit.Engine
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(store ports.GraphStore, engine *commit.Engine, errors *pkgerrors.ErrorHandler, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{base: base{store: store, errors: errors, logger: logger}, engine: engine}
}

// CreateGraphRequest is the body of POST /graphs. Zero values take the
// configured defaults.
type CreateGraphRequest struct {
	Name           string `json:"name" validate:"max=200"`
	Subject        string `json:"subject" validate:"max=200"`
	LessonCount    int    `json:"lesson_count" validate:"min=0,max=100"`
	LessonDuration int    `json:"lesson_duration" validate:"min=0,max=600"`
}

// UpdateGraphRequest is the body of PATCH /graphs/{graphID}.
type UpdateGraphRequest struct {
	Name           *string `json:"name" validate:"omitempty,min=1,max=200"`
	Subject        *string `json:"subject" validate:"omitempty,max=200"`
	LessonCount    *int    `json:"lesson_count" validate:"omitempty,min=1,max=100"`
	LessonDuration *int    `json:"lesson_duration" validate:"omitempty,min=1,max=600"`
}

// GraphView is a whole graph as returned by GET /graphs/{graphID}.
type GraphView struct {
	Graph entities.GraphInfo      `json:"graph"`
	Cards []entities.CardSnapshot `json:"cards"`
	Links []entities.LinkSnapshot `json:"links"`
}

// CreateGraph handles POST /graphs
func (h *GraphHandler) CreateGraph(w http.ResponseWriter, r *http.Request) {
	var req CreateGraphRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	info, err := h.engine.CreateGraph(r.Context(), middleware.ActorFrom(r.Context()),
		req.Name, req.Subject, req.LessonCount, req.LessonDuration)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, info)
}

// ListGraphs handles GET /graphs
func (h *GraphHandler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := h.store.ListGraphs(r.Context(), middleware.ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if graphs == nil {
		graphs = []entities.GraphInfo{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"graphs": graphs})
}

// GetGraph handles GET /graphs/{graphID}
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := h.ownedGraph(r.Context(), chi.URLParam(r, "graphID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, GraphView{
		Graph: g.Info(),
		Cards: g.CardSnapshots(),
		Links: g.LinkSnapshots(),
	})
}

// UpdateGraph handles PATCH /graphs/{graphID}
func (h *GraphHandler) UpdateGraph(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")
	var req UpdateGraphRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}

	receipt, err := h.engine.UpdateGraphInfo(r.Context(), graphID, middleware.ActorFrom(r.Context()), entities.GraphInfoPatch{
		Name:           req.Name,
		Subject:        req.Subject,
		LessonCount:    req.LessonCount,
		LessonDuration: req.LessonDuration,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}

// ListAudit handles GET /graphs/{graphID}/audit?limit=N
func (h *GraphHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			h.fail(w, r, pkgerrors.NewValidationError("limit must be a number between 1 and 500"))
			return
		}
		limit = n
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}

	records, err := h.store.ListAudit(r.Context(), graphID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []entities.AuditRecord{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"records": records})
}
