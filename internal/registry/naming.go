package registry

import (
	"fmt"
	"strings"
	"sync"
)

// Naming computes and remembers the mapping between an upstream's
// original tool/prompt names and the names the hub exposes downstream,
// under one of three selectable CollisionStrategy values and a
// configurable separator.
type Naming struct {
	strategy  CollisionStrategy
	separator string

	mu       sync.RWMutex
	exposed  map[string]resolved // exposed name -> origin
	original map[string]string   // upstreamID+"\x00"+originalName -> exposed name
}

type resolved struct {
	upstreamID string
	original   string
	kind       itemKind
}

// NewNaming builds a Naming using strategy and separator (default "_" when
// empty).
func NewNaming(strategy CollisionStrategy, separator string) *Naming {
	if separator == "" {
		separator = "_"
	}
	if strategy == "" {
		strategy = StrategyNamespace
	}
	return &Naming{
		strategy:  strategy,
		separator: separator,
		exposed:   make(map[string]resolved),
		original:  make(map[string]string),
	}
}

func (n *Naming) prefixed(prefix, separator, name string) string {
	return prefix + separator + name
}

// Expose computes the public name for (upstreamID, originalName, kind),
// recording the mapping so Resolve can invert it later. Resource URIs never
// go through Expose; they are matched verbatim (first-writer-wins is
// enforced by the Registry, not here).
//
// prefix is the display prefix to use in the namespaced form, normally
// upstreamID itself, but overridable per upstream (Specification.ToolPrefix).
// alias, when non-empty, is a per-tool operator override (Specification's
// or a user-level alias table) that is exposed verbatim, bypassing the
// collision strategy entirely: an explicit alias is a deliberate operator
// choice, not something the hub should second-guess.
func (n *Naming) Expose(upstreamID, prefix, originalName, alias string, kind itemKind) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := originKey(upstreamID, originalName)
	if existing, ok := n.original[key]; ok {
		return existing, nil
	}

	if alias != "" {
		n.exposed[alias] = resolved{upstreamID: upstreamID, original: originalName, kind: kind}
		n.original[key] = alias
		return alias, nil
	}

	namespaced := n.prefixed(prefix, n.separator, strings.ReplaceAll(originalName, ".", "_"))

	var exposedName string
	switch n.strategy {
	case StrategyNamespace:
		exposedName = namespaced
	case StrategyAlias:
		if _, taken := n.exposed[originalName]; !taken {
			exposedName = originalName
		} else {
			exposedName = namespaced
		}
	case StrategyError:
		if prev, taken := n.exposed[originalName]; taken && prev.upstreamID != upstreamID {
			return "", fmt.Errorf("name collision for %q: already exposed by upstream %q", originalName, prev.upstreamID)
		}
		exposedName = originalName
	default:
		exposedName = namespaced
	}

	n.exposed[exposedName] = resolved{upstreamID: upstreamID, original: originalName, kind: kind}
	n.original[key] = exposedName
	return exposedName, nil
}

// Resolve inverts a previously exposed name back to its upstream id and
// original name.
func (n *Naming) Resolve(exposedName string) (upstreamID, originalName string, kind itemKind, ok bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, found := n.exposed[exposedName]
	if !found {
		return "", "", "", false
	}
	return r.upstreamID, r.original, r.kind, true
}

// Forget removes every mapping owned by upstreamID, used when an upstream
// is deregistered or its capability list is refreshed.
func (n *Naming) Forget(upstreamID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for exposed, r := range n.exposed {
		if r.upstreamID == upstreamID {
			delete(n.exposed, exposed)
			delete(n.original, originKey(upstreamID, r.original))
		}
	}
}

func originKey(upstreamID, originalName string) string {
	var b strings.Builder
	b.WriteString(upstreamID)
	b.WriteByte(0)
	b.WriteString(originalName)
	return b.String()
}
