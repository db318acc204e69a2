package authpak

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const payloadContextKey contextKey = "authpakPayload"

// FromContext retrieves the resolved Payload attached by Middleware, or the
// zero Payload if none is present.
func FromContext(ctx context.Context) Payload {
	p, _ := ctx.Value(payloadContextKey).(Payload)
	return p
}

// Middleware extracts a PAK from "Authorization: Bearer <pak>" or the
// "X-PAK" header (spec.md §4.2), resolves it, and attaches the resulting
// Payload to the request context. Paths in skipPaths bypass auth entirely
// (used for /healthz, /readyz, /metrics).
func Middleware(resolver *Resolver, skipPaths []string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}

			payload, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), payloadContextKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-PAK"))
}

// RequireAdmin reports whether the request context carries an admin Payload.
func RequireAdmin(ctx context.Context) bool {
	return FromContext(ctx).IsAdmin()
}

// RequireAgentOrAdmin reports whether the context is admin or the given
// agent id.
func RequireAgentOrAdmin(ctx context.Context, agentID string) bool {
	p := FromContext(ctx)
	return p.IsAdmin() || p.IsAgent(agentID)
}

// RequireGeneratorOrAdmin reports whether the context is admin or the given
// generator id.
func RequireGeneratorOrAdmin(ctx context.Context, generatorID string) bool {
	p := FromContext(ctx)
	return p.IsAdmin() || p.IsGenerator(generatorID)
}
