// Package scopes decides which memory scopes an agent may read and write.
package scopes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
)

// Config lists explicit per-agent access. Agents without an entry get
// "global" plus their own agent scope.
type Config struct {
	Default     string              `yaml:"default"`
	AgentAccess map[string][]string `yaml:"agentAccess"`
}

type Manager struct {
	defaultScope string
	access       map[string][]string
}

func NewManager(cfg Config) (*Manager, error) {
	def := cfg.Default
	if def == "" {
		def = models.GlobalScope
	}
	if !models.ValidScope(def) {
		return nil, fmt.Errorf("invalid default scope %q", def)
	}
	access := make(map[string][]string, len(cfg.AgentAccess))
	for agent, list := range cfg.AgentAccess {
		for _, s := range list {
			if !models.ValidScope(s) {
				return nil, fmt.Errorf("invalid scope %q for agent %q", s, agent)
			}
		}
		access[strings.TrimSpace(agent)] = slices.Clone(list)
	}
	return &Manager{defaultScope: def, access: access}, nil
}

// GetAccessibleScopes returns the scope filter for agentID. An empty agent
// gets nil, which the store treats as unrestricted.
func (m *Manager) GetAccessibleScopes(agentID string) []string {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil
	}
	if list, ok := m.access[agentID]; ok {
		return slices.Clone(list)
	}
	return []string{models.GlobalScope, models.AgentScope(agentID)}
}

func (m *Manager) IsAccessible(scope, agentID string) bool {
	allowed := m.GetAccessibleScopes(agentID)
	return allowed == nil || slices.Contains(allowed, scope)
}

// DefaultScope is where an agent's writes land when no scope is given.
func (m *Manager) DefaultScope(agentID string) string {
	if m.IsAccessible(m.defaultScope, agentID) {
		return m.defaultScope
	}
	if allowed := m.GetAccessibleScopes(agentID); len(allowed) > 0 {
		return allowed[0]
	}
	return models.GlobalScope
}

func (m *Manager) Validate(scope string) error {
	if !models.ValidScope(scope) {
		return &store.ValidationError{Field: "scope", Message: fmt.Sprintf("%q is not global or type:id", scope)}
	}
	return nil
}

// Resolve picks the write scope for agentID: the requested one if valid and
// accessible, the default when none is requested.
func (m *Manager) Resolve(requested, agentID string) (string, error) {
	scope := strings.TrimSpace(requested)
	if scope == "" {
		return m.DefaultScope(agentID), nil
	}
	if err := m.Validate(scope); err != nil {
		return "", err
	}
	if !m.IsAccessible(scope, agentID) {
		return "", &store.AccessDeniedError{Scope: scope}
	}
	return scope, nil
}
