// ABOUTME: Side table mapping runId to sessionKey for event attribution
// ABOUTME: Written before execution starts, read-only to the relay, released with the run

package runs

import "sync"

// Contexts is the runId→sessionKey side table. The coordinator binds an
// entry before invoking the executor so concurrently arriving events are
// attributable immediately; the relay only reads it.
type Contexts struct {
	mu         sync.RWMutex
	sessionKey map[string]string
}

// NewContexts creates an empty side table.
func NewContexts() *Contexts {
	return &Contexts{
		sessionKey: make(map[string]string),
	}
}

// Bind records the owning sessionKey for runID.
func (c *Contexts) Bind(runID, sessionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey[runID] = sessionKey
}

// Lookup returns the sessionKey bound to runID.
func (c *Contexts) Lookup(runID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.sessionKey[runID]
	return key, ok
}

// Release removes the binding for runID. Safe for unknown runIds.
func (c *Contexts) Release(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessionKey, runID)
}
