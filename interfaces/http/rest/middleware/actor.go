package middleware

import (
	"context"
	"net/http"
	"strings"

	pkgerrors "lessonmap-backend/pkg/errors"
)

// ActorHeader carries the caller's user id. Authentication happens upstream.
const ActorHeader = "X-User-ID"

type actorKey struct{}

// RequireActor rejects requests without an X-User-ID header and stores the
// actor in the request context.
func RequireActor(errors *pkgerrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get(ActorHeader))
			if actor == "" {
				errors.Handle(w, r, pkgerrors.NewUnauthorizedError("the "+ActorHeader+" header is required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by RequireActor.
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
