// ABOUTME: Send policy engine evaluating ordered allow/deny rules per session
// ABOUTME: First matching rule wins; unmatched sessions fall through to the default

package policy

import (
	"strings"

	"github.com/2389/beacon-gateway/internal/config"
	"github.com/2389/beacon-gateway/internal/store"
)

// Action is a policy decision.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Match describes which sessions a rule applies to. Empty fields match
// everything; set fields must all match.
type Match struct {
	Provider   string
	ChatType   string
	KeyPrefix  string
	SessionKey string
}

// Rule pairs an action with its match criteria.
type Rule struct {
	Action Action
	Match  Match
}

// Engine evaluates a send policy for sessions.
type Engine struct {
	defaultAction Action
	rules         []Rule
}

// New creates an engine with the given default and ordered rules.
func New(defaultAction Action, rules []Rule) *Engine {
	if defaultAction != ActionDeny {
		defaultAction = ActionAllow
	}
	return &Engine{
		defaultAction: defaultAction,
		rules:         rules,
	}
}

// FromConfig builds an engine from the YAML policy document.
func FromConfig(cfg config.PolicyConfig) *Engine {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, Rule{
			Action: Action(r.Action),
			Match: Match{
				Provider:   r.Match.Provider,
				ChatType:   r.Match.ChatType,
				KeyPrefix:  r.Match.KeyPrefix,
				SessionKey: r.Match.SessionKey,
			},
		})
	}
	return New(Action(cfg.Default), rules)
}

// Evaluate returns the action for a session. The entry's own sendPolicy
// override, when set to "allow" or "deny", wins over the configured rules.
func (e *Engine) Evaluate(sessionKey string, entry store.SessionEntry) Action {
	switch Action(entry.SendPolicy) {
	case ActionAllow:
		return ActionAllow
	case ActionDeny:
		return ActionDeny
	}

	for _, rule := range e.rules {
		if rule.matches(sessionKey, entry) {
			return rule.Action
		}
	}
	return e.defaultAction
}

// Allows reports whether sends to the session are permitted.
func (e *Engine) Allows(sessionKey string, entry store.SessionEntry) bool {
	return e.Evaluate(sessionKey, entry) == ActionAllow
}

func (r Rule) matches(sessionKey string, entry store.SessionEntry) bool {
	m := r.Match
	if m.Provider != "" && m.Provider != entry.Provider {
		return false
	}
	if m.ChatType != "" && m.ChatType != entry.ChatType {
		return false
	}
	if m.KeyPrefix != "" && !strings.HasPrefix(sessionKey, m.KeyPrefix) {
		return false
	}
	if m.SessionKey != "" && m.SessionKey != sessionKey {
		return false
	}
	return true
}
