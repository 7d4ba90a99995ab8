package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lessonmap-backend/application/assistant"
	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/core/proposals"
	"lessonmap-backend/interfaces/http/rest/middleware"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// AssistantHandler exposes the assistant operations and the commit of
// accepted suggestions.
type AssistantHandler struct {
	base
	assistant *assistant.Service
}

func NewAssistantHandler(store ports.GraphStore, svc *assistant.Service, errors *pkgerrors.ErrorHandler, logger *zap.Logger) *AssistantHandler {
	return &AssistantHandler{base: base{store: store, errors: errors, logger: logger}, assistant: svc}
}

// SuggestRequest is the body of POST .../cards/{cardID}/ai/{op}.
type SuggestRequest struct {
	Instruction  string   `json:"instruction" validate:"max=4000"`
	ConnectedIDs []string `json:"connected_ids" validate:"omitempty,max=20,dive,required"`
}

// HistoryMessage is one earlier turn of a map conversation.
type HistoryMessage struct {
	Role    ports.Role `json:"role" validate:"required,oneof=user assistant"`
	Content string     `json:"content" validate:"required,max=20000"`
}

// GenerateRequest is the body of POST .../ai/generate.
type GenerateRequest struct {
	Instruction string           `json:"instruction" validate:"required,max=4000"`
	History     []HistoryMessage `json:"history" validate:"omitempty,max=20,dive"`
}

// SuggestionResponse carries the proposal in its wire envelope, ready to be
// posted back to the commit endpoint unchanged.
type SuggestionResponse struct {
	Operation   proposals.Operation `json:"operation"`
	BaseVersion int                 `json:"base_version"`
	Proposal    json.RawMessage     `json:"proposal"`
}

// Suggest handles POST /graphs/{graphID}/cards/{cardID}/ai/{op}
func (h *AssistantHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	graphID, cardID := chi.URLParam(r, "graphID"), chi.URLParam(r, "cardID")
	op, err := proposals.ParseOperation(chi.URLParam(r, "op"))
	if err != nil || op.GraphLevel() {
		h.fail(w, r, pkgerrors.NewNotFoundError("operation "+chi.URLParam(r, "op")))
		return
	}

	var req SuggestRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := h.assistant.Suggest(r.Context(), assistant.SuggestInput{
		GraphID:      graphID,
		CardID:       cardID,
		Operation:    op,
		ConnectedIDs: req.ConnectedIDs,
		Instruction:  req.Instruction,
		Actor:        middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondSuggestion(w, r, op, s)
}

func (h *AssistantHandler) respondSuggestion(w http.ResponseWriter, r *http.Request, op proposals.Operation, s *assistant.Suggestion) {
	envelope, err := proposals.Marshal(s.Proposal)
	if err != nil {
		h.fail(w, r, pkgerrors.NewInternalError("encode proposal").WithCause(err))
		return
	}
	h.respondJSON(w, http.StatusOK, SuggestionResponse{
		Operation:   op,
		BaseVersion: s.BaseVersion,
		Proposal:    envelope,
	})
}

// Generate handles POST /graphs/{graphID}/ai/generate
func (h *AssistantHandler) Generate(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")

	var req GenerateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}

	history := make([]ports.Message, len(req.History))
	for i, m := range req.History {
		history[i] = ports.Message{Role: m.Role, Content: m.Content}
	}
	s, err := h.assistant.Generate(r.Context(), assistant.GenerateInput{
		GraphID:     graphID,
		Instruction: req.Instruction,
		History:     history,
		Actor:       middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondSuggestion(w, r, proposals.OperationGenerate, s)
}

// Commit handles POST /graphs/{graphID}/ai/commit. The body is the proposal
// envelope returned by Suggest; it is staged again before anything is written.
func (h *AssistantHandler) Commit(w http.ResponseWriter, r *http.Request) {
	graphID := chi.URLParam(r, "graphID")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		h.fail(w, r, pkgerrors.NewValidationError("could not read proposal"))
		return
	}
	p, err := proposals.Unmarshal(body)
	if err != nil {
		h.fail(w, r, pkgerrors.NewValidationError(err.Error()))
		return
	}
	if _, err := h.ownedGraph(r.Context(), graphID); err != nil {
		h.fail(w, r, err)
		return
	}

	receipt, err := h.assistant.Accept(r.Context(), graphID, middleware.ActorFrom(r.Context()), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}
