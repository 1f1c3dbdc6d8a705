// Package resolver provides the DidResolverRegistry external interface
// (spec.md §6): a method-keyed dispatcher over pluggable DID resolvers.
// Resolution of did:peer identifiers never leaves this process (see
// package peerdid); the registry exists for every other DID method,
// each satisfied by an out-of-tree resolver this core only depends on
// through the Resolver interface.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperpeer/agent/diddoc"
)

// ErrNoResolverForMethod is returned when no resolver is registered for
// a DID's method prefix.
var ErrNoResolverForMethod = errors.New("resolver: no resolver registered for method")

// Metadata carries resolution-time information alongside the resolved
// document (cache hints, equivalent ids, etc.). Opaque to the core.
type Metadata struct {
	Method      string
	ContentType string
}

// Resolver resolves a single DID method.
type Resolver interface {
	Resolve(ctx context.Context, did string) (diddoc.Document, Metadata, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, did string) (diddoc.Document, Metadata, error)

func (f ResolverFunc) Resolve(ctx context.Context, did string) (diddoc.Document, Metadata, error) {
	return f(ctx, did)
}

// Registry dispatches DID resolution by method prefix, e.g. "web" for
// did:web:..., "key" for did:key:....
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty resolver registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register binds a resolver to a DID method. It returns the registry to
// allow fluent construction, matching the teacher's builder-style
// registration pattern.
func (r *Registry) Register(method string, resolver Resolver) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolvers[method] = resolver

	return r
}

// Resolve dispatches to the resolver bound to did's method.
func (r *Registry) Resolve(ctx context.Context, did string) (diddoc.Document, Metadata, error) {
	method, err := methodOf(did)
	if err != nil {
		return diddoc.Document{}, Metadata{}, err
	}

	r.mu.RLock()
	resolver, ok := r.resolvers[method]
	r.mu.RUnlock()

	if !ok {
		return diddoc.Document{}, Metadata{}, fmt.Errorf("%w: %s", ErrNoResolverForMethod, method)
	}

	return resolver.Resolve(ctx, did)
}

func methodOf(did string) (string, error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) < 2 || parts[0] != "did" {
		return "", fmt.Errorf("resolver: %q is not a DID", did)
	}

	return parts[1], nil
}
