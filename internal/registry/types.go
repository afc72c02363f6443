// Package registry aggregates tool/resource/prompt listings from every
// active upstream into one namespace, applying a collision policy for
// tools/prompts and first-writer-wins for resource URIs.
package registry

// CollisionStrategy selects how the registry handles two upstreams
// exposing a tool or prompt with the same original name.
type CollisionStrategy string

const (
	// StrategyNamespace always prefixes every name with its upstream id,
	// so collisions never occur. This is the default.
	StrategyNamespace CollisionStrategy = "namespace"
	// StrategyAlias exposes the first writer's name unprefixed and
	// prefixes only later collisions.
	StrategyAlias CollisionStrategy = "alias"
	// StrategyError rejects registration of a colliding name outright.
	StrategyError CollisionStrategy = "error"
)

type itemKind string

const (
	kindTool     itemKind = "tool"
	kindPrompt   itemKind = "prompt"
	kindResource itemKind = "resource"
)
