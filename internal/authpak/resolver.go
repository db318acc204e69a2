package authpak

import (
	"context"
	"errors"

	"github.com/brokkr-io/brokkr/internal/store"
)

// Payload is the resolved identity attached to a request context after a
// PAK is verified (spec.md §4.2).
type Payload struct {
	Admin       bool
	AgentID     string
	GeneratorID string
}

// IsAdmin reports whether the payload authenticated as the admin role.
func (p Payload) IsAdmin() bool { return p.Admin }

// IsAgent reports whether the payload authenticated as agent id.
func (p Payload) IsAgent(id string) bool { return p.AgentID != "" && p.AgentID == id }

// IsGenerator reports whether the payload authenticated as generator id.
func (p Payload) IsGenerator(id string) bool { return p.GeneratorID != "" && p.GeneratorID == id }

// ErrUnauthenticated is returned when no admin/agent/generator PAK matches.
var ErrUnauthenticated = errors.New("authpak: no matching credential")

// Resolver verifies a bearer token against the store's admin/agent/generator
// PAK hashes, in the order spec.md §4.2 mandates: admin, then live agents,
// then live generators.
type Resolver struct {
	store *store.Store
}

// NewResolver builds a Resolver backed by st.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve verifies plaintext and returns the matching identity, or
// ErrUnauthenticated if nothing matches.
func (r *Resolver) Resolve(ctx context.Context, plaintext string) (Payload, error) {
	if plaintext == "" {
		return Payload{}, ErrUnauthenticated
	}

	if hash, ok, err := r.store.AdminPAKHash(ctx); err != nil {
		return Payload{}, err
	} else if ok && Verify(plaintext, hash) {
		return Payload{Admin: true}, nil
	}

	agents, err := r.store.ListLiveAgents(ctx)
	if err != nil {
		return Payload{}, err
	}
	for _, a := range agents {
		if Verify(plaintext, a.PAKHash) {
			return Payload{AgentID: a.ID}, nil
		}
	}

	generators, err := r.store.ListLiveGenerators(ctx)
	if err != nil {
		return Payload{}, err
	}
	for _, g := range generators {
		if Verify(plaintext, g.PAKHash) {
			return Payload{GeneratorID: g.ID}, nil
		}
	}

	return Payload{}, ErrUnauthenticated
}
