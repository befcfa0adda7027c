package registry

import "fmt"

// AbilityGroup is a named bundle of tools selectable as a unit by the
// router (spec.md §4.2's "ability_group"), optionally injecting extra
// system-prompt text describing how to use the bundle.
type AbilityGroup struct {
	Name                 string
	ToolIDs              []string
	InjectedSystemPrompt string
}

// abilityBook holds the configured ability groups, looked up by name.
type abilityBook struct {
	groups map[string]AbilityGroup
}

func newAbilityBook() *abilityBook {
	return &abilityBook{groups: make(map[string]AbilityGroup)}
}

// RegisterAbilityGroup adds or replaces a named ability group.
func (r *Registry) RegisterAbilityGroup(group AbilityGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abilities == nil {
		r.abilities = newAbilityBook()
	}
	r.abilities.groups[group.Name] = group
}

// AbilityGroup looks up a registered ability group by name.
func (r *Registry) AbilityGroup(name string) (AbilityGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.abilities == nil {
		return AbilityGroup{}, fmt.Errorf("registry: no ability groups registered")
	}
	g, ok := r.abilities.groups[name]
	if !ok {
		return AbilityGroup{}, fmt.Errorf("registry: unknown ability group %q", name)
	}
	return g, nil
}

// ToolIDsForAbility resolves an ability group's tool list, used by the
// router to expand a selected group into an allowlist.
func (r *Registry) ToolIDsForAbility(name string) ([]string, error) {
	g, err := r.AbilityGroup(name)
	if err != nil {
		return nil, err
	}
	return g.ToolIDs, nil
}
