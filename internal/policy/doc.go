// Package policy decides whether a session may receive agent-directed
// outbound sends. Rules are evaluated in order; the first match wins, else
// the policy default applies. A per-session override in the session entry
// takes precedence over the configured policy.
package policy
