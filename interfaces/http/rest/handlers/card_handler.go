package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lessonmap-backend/application/commit"
	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/core/valueobjects"
	"lessonmap-backend/interfaces/http/rest/middleware"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// CardHandler handles direct card and link edits.
type CardHandler struct {
	base
	engine *commit.Engine
}

func NewCardHandler(store ports.GraphStore, engine *commit.Engine, errors *pkgerrors.ErrorHandler, logger *zap.Logger) *CardHandler {
	return &CardHandler{base: base{store: store, errors: errors, logger: logger}, engine: engine}
}

type CreateCardRequest struct {
	ID          string                 `json:"id" validate:"omitempty,entityid"`
	Tag         string                 `json:"tag" validate:"required,cardtag"`
	Title       string                 `json:"title" validate:"required"`
	Description string                 `json:"description"`
	Sources     []string               `json:"sources" validate:"omitempty,dive,required"`
	Position    *valueobjects.Position `json:"position"`
}

type UpdateCardRequest struct {
	Tag         *string                `json:"tag" validate:"omitempty,cardtag"`
	Title       *string                `json:"title" validate:"omitempty,min=1"`
	Description *string                `json:"description"`
	Sources     *[]string              `json:"sources"`
	Position    *valueobjects.Position `json:"position"`
}

type CreateLinkRequest struct {
	ID     string `json:"id" validate:"omitempty,entityid"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label" validate:"max=100"`
}

type RelabelLinkRequest struct {
	Label string `json:"label" validate:"max=100"`
}

// CreateCard handles POST /graphs/{graphID}/cards
func (h *CardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")
	var req CreateCardRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}

	in := commit.NewCardInput{
		ID:          req.ID,
		Tag:         valueobjects.Tag(req.Tag),
		Title:       req.Title,
		Description: req.Description,
		Sources:     req.Sources,
	}
	if req.Position != nil {
		in.Position = *req.Position
	}
	receipt, err := h.engine.CreateCard(r.Context(), graphID, middleware.ActorFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, receipt)
}

// UpdateCard handles PATCH /graphs/{graphID}/cards/{cardID}
func (h *CardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	graphID, cardID := chi.URLParam(r, "graphID"), chi.URLParam(r, "cardID")
	var req UpdateCardRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}

	patch := commit.CardPatch{
		Title:       req.Title,
		Description: req.Description,
		Sources:     req.Sources,
		Position:    req.Position,
	}
	if req.Tag != nil {
		tag := valueobjects.Tag(*req.Tag)
		patch.Tag = &tag
	}
	receipt, err := h.engine.UpdateCard(r.Context(), graphID, cardID, middleware.ActorFrom(r.Context()), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}

// DeleteCard handles DELETE /graphs/{graphID}/cards/{cardID}
func (h *CardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	graphID, cardID := chi.URLParam(r, "graphID"), chi.URLParam(r, "cardID")
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.engine.DeleteCard(r.Context(), graphID, cardID, middleware.ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}

// CreateLink handles POST /graphs/{graphID}/links
func (h *CardHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")
	var req CreateLinkRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.engine.CreateLink(r.Context(), graphID, middleware.ActorFrom(r.Context()), commit.NewLinkInput{
		ID:     req.ID,
		Source: req.Source,
		Target: req.Target,
		Label:  req.Label,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, receipt)
}

// RelabelLink handles PATCH /graphs/{graphID}/links/{linkID}
func (h *CardHandler) RelabelLink(w http.ResponseWriter, r *http.Request) {
	graphID, linkID := chi.URLParam(r, "graphID"), chi.URLParam(r, "linkID")
	var req RelabelLinkRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.engine.RelabelLink(r.Context(), graphID, linkID, middleware.ActorFrom(r.Context()), req.Label)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}

// DeleteLink handles DELETE /graphs/{graphID}/links/{linkID}
func (h *CardHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	graphID, linkID := chi.URLParam(r, "graphID"), chi.URLParam(r, "linkID")
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.engine.DeleteLink(r.Context(), graphID, linkID, middleware.ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}
