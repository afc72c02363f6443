package registry

import (
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolEntry is one public tool name in the registry. Tool.Name already holds
// the exposed (post-naming-policy) name; OriginalName is what the owning
// upstream calls it.
type ToolEntry struct {
	Tool         mcp.Tool
	UpstreamID   string
	OriginalName string
}

// ResourceEntry is one resource URI in the registry. Unlike tools and
// prompts, a resource's URI is never rewritten: Resource.URI is both the
// registry key and the original upstream URI.
type ResourceEntry struct {
	Resource   mcp.Resource
	UpstreamID string
}

// PromptEntry mirrors ToolEntry for prompts.
type PromptEntry struct {
	Prompt       mcp.Prompt
	UpstreamID   string
	OriginalName string
}

// Registry holds the three parallel indices (tools, resources, prompts)
// that map a public name or URI to its owning upstream, applying the
// naming policy for tools/prompts and first-writer-wins for resources.
//
// Every mutating operation is an atomic replace scoped to one upstream id;
// readers take a consistent snapshot under the same lock rather than
// observing a registry mid-update.
type Registry struct {
	mu sync.RWMutex

	toolNaming   *Naming
	promptNaming *Naming

	tools     map[string]ToolEntry // public name -> entry
	resources map[string]ResourceEntry // uri -> entry
	prompts   map[string]PromptEntry   // public name -> entry

	toolOrder     map[string][]string // upstreamID -> public names, in upstream order
	resourceOrder map[string][]string // upstreamID -> uris, in upstream order
	promptOrder   map[string][]string // upstreamID -> public names, in upstream order

	updateChan chan struct{}
}

// New builds an empty Registry using strategy/separator for tool and
// prompt naming. Tools and prompts use independent Naming instances: a
// tool and a prompt may legitimately share an original name without
// colliding with each other.
func New(strategy CollisionStrategy, separator string) *Registry {
	return &Registry{
		toolNaming:    NewNaming(strategy, separator),
		promptNaming:  NewNaming(strategy, separator),
		tools:         make(map[string]ToolEntry),
		resources:     make(map[string]ResourceEntry),
		prompts:       make(map[string]PromptEntry),
		toolOrder:     make(map[string][]string),
		resourceOrder: make(map[string][]string),
		promptOrder:   make(map[string][]string),
		updateChan:    make(chan struct{}, 1),
	}
}

// Updates returns a channel that receives a notification after any
// mutating call. It is a typed notifier, not a string-keyed event bus.
func (r *Registry) Updates() <-chan struct{} { return r.updateChan }

func (r *Registry) notify() {
	select {
	case r.updateChan <- struct{}{}:
	default:
	}
}

// RegisterServerTools atomically replaces every tool entry previously
// registered by upstreamID with tools, applying the naming policy to each.
// Errors from the StrategyError collision policy are returned per-tool but
// do not abort registration of the remaining tools.
func (r *Registry) RegisterServerTools(upstreamID, prefix string, aliases map[string]string, tools []mcp.Tool) []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearToolsLocked(upstreamID)

	var errs []error
	order := make([]string, 0, len(tools))
	for _, t := range tools {
		public, err := r.toolNaming.Expose(upstreamID, prefix, t.Name, aliases[t.Name], kindTool)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		exposed := t
		exposed.Name = public
		r.tools[public] = ToolEntry{Tool: exposed, UpstreamID: upstreamID, OriginalName: t.Name}
		order = append(order, public)
	}
	r.toolOrder[upstreamID] = order
	r.notify()
	return errs
}

// RegisterServerResources registers resources owned by upstreamID.
// First-writer-wins: a URI already owned by a different upstream is
// skipped and reported in the returned slice.
func (r *Registry) RegisterServerResources(upstreamID string, resources []mcp.Resource) (skipped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearResourcesLocked(upstreamID)

	order := make([]string, 0, len(resources))
	for _, res := range resources {
		if existing, ok := r.resources[res.URI]; ok && existing.UpstreamID != upstreamID {
			skipped = append(skipped, res.URI)
			continue
		}
		r.resources[res.URI] = ResourceEntry{Resource: res, UpstreamID: upstreamID}
		order = append(order, res.URI)
	}
	r.resourceOrder[upstreamID] = order
	r.notify()
	return skipped
}

// RegisterServerPrompts mirrors RegisterServerTools for prompts.
func (r *Registry) RegisterServerPrompts(upstreamID, prefix string, aliases map[string]string, prompts []mcp.Prompt) []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearPromptsLocked(upstreamID)

	var errs []error
	order := make([]string, 0, len(prompts))
	for _, p := range prompts {
		public, err := r.promptNaming.Expose(upstreamID, prefix, p.Name, aliases[p.Name], kindPrompt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		exposed := p
		exposed.Name = public
		r.prompts[public] = PromptEntry{Prompt: exposed, UpstreamID: upstreamID, OriginalName: p.Name}
		order = append(order, public)
	}
	r.promptOrder[upstreamID] = order
	r.notify()
	return errs
}

// ClearServer drops every tool, resource, and prompt entry owned by
// upstreamID, used when an upstream is deregistered.
func (r *Registry) ClearServer(upstreamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearToolsLocked(upstreamID)
	r.clearResourcesLocked(upstreamID)
	r.clearPromptsLocked(upstreamID)
	r.notify()
}

func (r *Registry) clearToolsLocked(upstreamID string) {
	for _, name := range r.toolOrder[upstreamID] {
		delete(r.tools, name)
	}
	delete(r.toolOrder, upstreamID)
	r.toolNaming.Forget(upstreamID)
}

func (r *Registry) clearResourcesLocked(upstreamID string) {
	for _, uri := range r.resourceOrder[upstreamID] {
		delete(r.resources, uri)
	}
	delete(r.resourceOrder, upstreamID)
}

func (r *Registry) clearPromptsLocked(upstreamID string) {
	for _, name := range r.promptOrder[upstreamID] {
		delete(r.prompts, name)
	}
	delete(r.promptOrder, upstreamID)
	r.promptNaming.Forget(upstreamID)
}

// ResolveTool looks up a public tool name.
func (r *Registry) ResolveTool(publicName string) (ToolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[publicName]
	return e, ok
}

// ResolveResource looks up a resource by URI.
func (r *Registry) ResolveResource(uri string) (ResourceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.resources[uri]
	return e, ok
}

// ResolvePrompt looks up a public prompt name.
func (r *Registry) ResolvePrompt(publicName string) (PromptEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.prompts[publicName]
	return e, ok
}

// ToolsFor returns upstreamID's tools in the order it advertised them.
func (r *Registry) ToolsFor(upstreamID string) []ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order := r.toolOrder[upstreamID]
	out := make([]ToolEntry, 0, len(order))
	for _, name := range order {
		out = append(out, r.tools[name])
	}
	return out
}

// ResourcesFor returns upstreamID's resources in the order it advertised them.
func (r *Registry) ResourcesFor(upstreamID string) []ResourceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order := r.resourceOrder[upstreamID]
	out := make([]ResourceEntry, 0, len(order))
	for _, uri := range order {
		out = append(out, r.resources[uri])
	}
	return out
}

// PromptsFor returns upstreamID's prompts in the order it advertised them.
func (r *Registry) PromptsFor(upstreamID string) []PromptEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order := r.promptOrder[upstreamID]
	out := make([]PromptEntry, 0, len(order))
	for _, name := range order {
		out = append(out, r.prompts[name])
	}
	return out
}

// ListAllTools is a snapshot of every registered tool, in no particular
// order. Callers that need the stable aggregation order should use
// ToolsFor per-upstream in configuration order instead.
func (r *Registry) ListAllTools() []ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolEntry, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e)
	}
	return out
}

// ListAllResources mirrors ListAllTools for resources.
func (r *Registry) ListAllResources() []ResourceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceEntry, 0, len(r.resources))
	for _, e := range r.resources {
		out = append(out, e)
	}
	return out
}

// ListAllPrompts mirrors ListAllTools for prompts.
func (r *Registry) ListAllPrompts() []PromptEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PromptEntry, 0, len(r.prompts))
	for _, e := range r.prompts {
		out = append(out, e)
	}
	return out
}
