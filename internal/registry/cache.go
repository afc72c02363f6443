package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/hatago-hub/internal/logging"
)

// DebounceWindow is how long Cache waits after the last Update before
// writing the cache file to disk, coalescing bursts of discovery into one
// write.
const DebounceWindow = 5 * time.Second

// ToolStat records how often a cached tool has actually been called.
type ToolStat struct {
	Calls        uint64    `json:"calls"`
	LastCalledAt time.Time `json:"lastCalledAt"`
}

// Entry is the persisted record for one upstream: the most recently
// observed tool/resource/prompt lists plus a content hash of each,
// computed so operators can tell whether a cached listing is stale
// relative to what was last persisted. A hash mismatch is informational
// only; it never blocks serving the cache.
type Entry struct {
	Tools         []mcp.Tool            `json:"tools"`
	Resources     []mcp.Resource        `json:"resources"`
	Prompts       []mcp.Prompt          `json:"prompts"`
	ToolsHash     uint64                `json:"toolsHash"`
	ResourcesHash uint64                `json:"resourcesHash"`
	PromptsHash   uint64                `json:"promptsHash"`
	LastUpdated   time.Time             `json:"lastUpdated"`
	Capabilities  []string              `json:"capabilities,omitempty"`
	Statistics    map[string]*ToolStat  `json:"statistics,omitempty"`
}

// Cache is the per-upstream metadata cache persisted alongside the config
// file at <config>.metadata.json. It lets list methods answer for
// disabled or currently-stopped upstreams without waking them.
type Cache struct {
	path string
	log  *logging.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	debounceMu sync.Mutex
	timer      *time.Timer
}

// Load reads path if it exists, returning an empty Cache otherwise. A
// malformed cache file is logged and treated as empty rather than
// aborting hub startup.
func Load(path string, log *logging.Logger) *Cache {
	c := &Cache{path: path, log: log, entries: make(map[string]*Entry)}
	if path == "" {
		return c
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("metadata cache: read failed, starting empty", "path", path, "error", err)
		}
		return c
	}
	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn("metadata cache: malformed, starting empty", "path", path, "error", err)
		return c
	}
	c.entries = entries
	return c
}

// Get returns the cached entry for upstreamID, if any.
func (c *Cache) Get(upstreamID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[upstreamID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Update replaces upstreamID's cached listing after a successful
// discovery and schedules a debounced write to disk.
func (c *Cache) Update(upstreamID string, tools []mcp.Tool, resources []mcp.Resource, prompts []mcp.Prompt, capabilities []string) {
	c.mu.Lock()
	existing := c.entries[upstreamID]
	stats := map[string]*ToolStat{}
	if existing != nil {
		stats = existing.Statistics
		if stats == nil {
			stats = map[string]*ToolStat{}
		}
	}
	c.entries[upstreamID] = &Entry{
		Tools:         tools,
		Resources:     resources,
		Prompts:       prompts,
		ToolsHash:     hashJSON(tools),
		ResourcesHash: hashJSON(resources),
		PromptsHash:   hashJSON(prompts),
		LastUpdated:   time.Now(),
		Capabilities:  capabilities,
		Statistics:    stats,
	}
	c.mu.Unlock()
	c.scheduleSave()
}

// RecordCall increments the call counter for a tool the cache knows about,
// so operators can see which cached-but-inactive tools are actually
// exercised once the owning upstream wakes up. It is a no-op if the
// upstream has no cache entry yet.
func (c *Cache) RecordCall(upstreamID, toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[upstreamID]
	if !ok {
		return
	}
	if e.Statistics == nil {
		e.Statistics = map[string]*ToolStat{}
	}
	st, ok := e.Statistics[toolName]
	if !ok {
		st = &ToolStat{}
		e.Statistics[toolName] = st
	}
	st.Calls++
	st.LastCalledAt = time.Now()
	c.scheduleSave()
}

func (c *Cache) scheduleSave() {
	if c.path == "" {
		return
	}
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(DebounceWindow, func() {
		if err := c.save(); err != nil {
			c.log.Warn("metadata cache: write failed", "path", c.path, "error", err)
		}
	})
}

// Flush cancels any pending debounced write and saves immediately. Callers
// should call this during hub shutdown so a recent discovery is not lost.
func (c *Cache) Flush() error {
	c.debounceMu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.debounceMu.Unlock()
	return c.save()
}

func (c *Cache) save() error {
	if c.path == "" {
		return nil
	}
	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

func hashJSON(v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
