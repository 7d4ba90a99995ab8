// Package handlers implements the REST endpoints of the lesson map API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/interfaces/http/rest/middleware"
	pkgerrors "lessonmap-backend/pkg/errors"
	"lessonmap-backend/pkg/validation"
)

// maxBodyBytes bounds request bodies. A split proposal with long
// descriptions is the largest legitimate payload.
const maxBodyBytes = 1 << 20

type base struct {
	store  ports.GraphStore
	errors *pkgerrors.ErrorHandler
	logger *zap.Logger
}

// ownedGraph loads a graph and hides it from everyone but its owner.
func (b *base) ownedGraph(ctx context.Context, graphID string) (*aggregates.Graph, error) {
	g, err := b.store.LoadGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if g.Info().Owner != middleware.ActorFrom(ctx) {
		return nil, pkgerrors.NewNotFoundError("graph " + graphID)
	}
	return g, nil
}

// decode reads a JSON body into dst and validates it.
func (b *base) decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return pkgerrors.NewValidationError("could not read request body")
	}
	if len(body) > maxBodyBytes {
		return pkgerrors.NewValidationError("request body is too large")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return pkgerrors.NewValidationError("request body is not valid JSON")
		}
		return pkgerrors.NewValidationError("invalid request body: " + err.Error())
	}
	return validation.Struct(dst)
}

func (b *base) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		b.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (b *base) fail(w http.ResponseWriter, r *http.Request, err error) {
	b.errors.Handle(w, r, err)
}
