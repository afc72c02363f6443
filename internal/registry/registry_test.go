package registry

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tool(name string) mcp.Tool { return mcp.Tool{Name: name} }

func TestRegisterServerTools_NamespaceStrategyPrefixesEveryName(t *testing.T) {
	r := New(StrategyNamespace, "_")

	errs := r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo")})
	require.Empty(t, errs)

	entry, ok := r.ResolveTool("srv1_echo")
	require.True(t, ok)
	assert.Equal(t, "srv1", entry.UpstreamID)
	assert.Equal(t, "echo", entry.OriginalName)
}

func TestRegisterServerTools_AliasStrategyExposesFirstWriterUnprefixed(t *testing.T) {
	r := New(StrategyAlias, "_")

	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo")}))
	require.Empty(t, r.RegisterServerTools("srv2", "srv2", nil, []mcp.Tool{tool("echo")}))

	_, ok := r.ResolveTool("echo")
	assert.True(t, ok, "first writer keeps the bare name")

	entry, ok := r.ResolveTool("srv2_echo")
	require.True(t, ok, "second writer's colliding name falls back to namespaced form")
	assert.Equal(t, "srv2", entry.UpstreamID)
}

func TestRegisterServerTools_ErrorStrategyRejectsCollision(t *testing.T) {
	r := New(StrategyError, "_")

	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo")}))
	errs := r.RegisterServerTools("srv2", "srv2", nil, []mcp.Tool{tool("echo")})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "already exposed")
}

func TestRegisterServerTools_AliasOverrideBypassesStrategy(t *testing.T) {
	r := New(StrategyNamespace, "_")

	aliases := map[string]string{"echo": "my-echo"}
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", aliases, []mcp.Tool{tool("echo")}))

	entry, ok := r.ResolveTool("my-echo")
	require.True(t, ok)
	assert.Equal(t, "echo", entry.OriginalName)
}

func TestRegisterServerTools_ReplacesPreviousRegistrationForSameUpstream(t *testing.T) {
	r := New(StrategyNamespace, "_")

	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("a"), tool("b")}))
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("c")}))

	_, ok := r.ResolveTool("srv1_a")
	assert.False(t, ok, "a is no longer registered after replacement")
	_, ok = r.ResolveTool("srv1_c")
	assert.True(t, ok)

	assert.Len(t, r.ToolsFor("srv1"), 1)
}

func TestRegisterServerResources_FirstWriterWinsOnURICollision(t *testing.T) {
	r := New(StrategyNamespace, "_")

	skipped := r.RegisterServerResources("srv1", []mcp.Resource{{URI: "file:///a"}})
	assert.Empty(t, skipped)

	skipped = r.RegisterServerResources("srv2", []mcp.Resource{{URI: "file:///a"}})
	assert.Equal(t, []string{"file:///a"}, skipped)

	entry, ok := r.ResolveResource("file:///a")
	require.True(t, ok)
	assert.Equal(t, "srv1", entry.UpstreamID)
}

func TestClearServer_RemovesToolsResourcesAndPrompts(t *testing.T) {
	r := New(StrategyNamespace, "_")
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo")}))
	r.RegisterServerResources("srv1", []mcp.Resource{{URI: "file:///a"}})
	require.Empty(t, r.RegisterServerPrompts("srv1", "srv1", nil, []mcp.Prompt{{Name: "greet"}}))

	r.ClearServer("srv1")

	_, ok := r.ResolveTool("srv1_echo")
	assert.False(t, ok)
	_, ok = r.ResolveResource("file:///a")
	assert.False(t, ok)
	_, ok = r.ResolvePrompt("srv1_greet")
	assert.False(t, ok)
}

func TestClearServer_ForgetsNamingSoNameCanBeReclaimed(t *testing.T) {
	r := New(StrategyAlias, "_")
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo")}))
	r.ClearServer("srv1")

	require.Empty(t, r.RegisterServerTools("srv2", "srv2", nil, []mcp.Tool{tool("echo")}))
	entry, ok := r.ResolveTool("echo")
	require.True(t, ok, "srv2 can claim the bare name once srv1's mapping is forgotten")
	assert.Equal(t, "srv2", entry.UpstreamID)
}

func TestToolsFor_PreservesUpstreamOrder(t *testing.T) {
	r := New(StrategyNamespace, "_")
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("b"), tool("a"), tool("c")}))

	names := make([]string, 0, 3)
	for _, e := range r.ToolsFor("srv1") {
		names = append(names, e.OriginalName)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestUpdates_NotifiesOnMutationWithoutBlocking(t *testing.T) {
	r := New(StrategyNamespace, "_")
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo")}))

	select {
	case <-r.Updates():
	default:
		t.Fatal("expected a pending notification after a mutation")
	}

	// A buffered depth-1 channel must never block a writer even when the
	// reader hasn't drained the previous notification.
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo2")}))
	require.Empty(t, r.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{tool("echo3")}))
}
