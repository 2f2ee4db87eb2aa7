// ABOUTME: Thinking-level resolution shared by history responses and fresh runs
// ABOUTME: Stored entry value, else configured default, else catalog-derived default

package history

import (
	"github.com/2389/beacon-gateway/internal/catalog"
	"github.com/2389/beacon-gateway/internal/store"
)

// Thinking levels produced by resolution when the catalog decides.
const (
	thinkingReasoning = "low"
	thinkingPlain     = "minimal"
)

// ResolveThinking picks the effective thinking level for a session: the
// stored entry value wins, then the configured default, then a catalog
// lookup of provider/model — "low" for reasoning-capable models, a minimal
// default otherwise. The same resolution runs when starting a fresh run.
func ResolveThinking(entry store.SessionEntry, configDefault, provider, model string, cat *catalog.Catalog) string {
	if entry.ThinkingLevel != "" {
		return entry.ThinkingLevel
	}
	if configDefault != "" {
		return configDefault
	}
	if cat != nil {
		if m, ok := cat.Lookup(provider, model); ok && m.Reasoning {
			return thinkingReasoning
		}
	}
	return thinkingPlain
}
