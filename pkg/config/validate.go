package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for structural errors. It assumes
// defaults have already been applied. All problems found are reported in
// one error so operators can fix a config in a single pass.
func Validate(cfg *Config) error {
	var problems []string

	for name, group := range cfg.TaskGroups {
		problems = append(problems, validateGroup(name, group)...)
	}

	for name, pool := range cfg.Pools {
		problems = append(problems, validatePool(cfg, name, pool)...)
	}

	switch cfg.Storage.Backend {
	case "memory", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("storage: unknown backend %q (supported: memory, sqlite)", cfg.Storage.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func validateGroup(name string, group TaskGroupConfig) []string {
	var problems []string

	if strings.Contains(name, ".") {
		problems = append(problems, fmt.Sprintf("task group %q: name must not contain %q", name, "."))
	}
	if len(group.Echelons) == 0 {
		problems = append(problems, fmt.Sprintf("task group %q: at least one echelon required", name))
	}
	if group.ConcurrencyLimit < 0 {
		problems = append(problems, fmt.Sprintf("task group %q: concurrency_limit must not be negative", name))
	}
	if group.RPMLimit < 0 {
		problems = append(problems, fmt.Sprintf("task group %q: rpm_limit must not be negative", name))
	}

	for echName, echelon := range group.Echelons {
		if strings.Contains(echName, ".") {
			problems = append(problems, fmt.Sprintf("task group %q: echelon %q: name must not contain %q", name, echName, "."))
		}
		if len(echelon.Models) == 0 {
			problems = append(problems, fmt.Sprintf("task group %q: echelon %q: at least one model required", name, echName))
		}
		if echelon.ConcurrencyLimit < 0 {
			problems = append(problems, fmt.Sprintf("task group %q: echelon %q: concurrency_limit must not be negative", name, echName))
		}
		if echelon.RPMLimit < 0 {
			problems = append(problems, fmt.Sprintf("task group %q: echelon %q: rpm_limit must not be negative", name, echName))
		}
	}

	if group.Fallback.Strategy != StrategyEchelonDown {
		problems = append(problems, fmt.Sprintf("task group %q: unknown fallback strategy %q (supported: %s)",
			name, group.Fallback.Strategy, StrategyEchelonDown))
	}

	for _, ref := range group.Fallback.FallbackGroups {
		if ref == "" {
			problems = append(problems, fmt.Sprintf("task group %q: empty fallback group reference", name))
		}
	}

	return problems
}

func validatePool(cfg *Config, name string, pool PoolConfig) []string {
	var problems []string

	if len(pool.Instances) == 0 {
		problems = append(problems, fmt.Sprintf("pool %q: at least one instance required", name))
	}

	seen := make(map[string]bool, len(pool.Instances))
	for _, inst := range pool.Instances {
		if inst.ID == "" {
			problems = append(problems, fmt.Sprintf("pool %q: instance with empty id", name))
			continue
		}
		if seen[inst.ID] {
			problems = append(problems, fmt.Sprintf("pool %q: duplicate instance id %q", name, inst.ID))
		}
		seen[inst.ID] = true

		if inst.Model == "" {
			problems = append(problems, fmt.Sprintf("pool %q: instance %q: model required", name, inst.ID))
		}
	}

	switch pool.RotationStrategy {
	case RotationRoundRobin, RotationLeastRecentlyUsed:
	default:
		problems = append(problems, fmt.Sprintf("pool %q: unknown rotation strategy %q (supported: %s, %s)",
			name, pool.RotationStrategy, RotationRoundRobin, RotationLeastRecentlyUsed))
	}

	for _, groupName := range pool.TaskGroups {
		if _, ok := cfg.TaskGroups[groupName]; !ok {
			problems = append(problems, fmt.Sprintf("pool %q: references unknown task group %q", name, groupName))
		}
	}

	for _, other := range pool.FallbackPools {
		if other == name {
			problems = append(problems, fmt.Sprintf("pool %q: lists itself as a fallback pool", name))
			continue
		}
		if _, ok := cfg.Pools[other]; !ok {
			problems = append(problems, fmt.Sprintf("pool %q: references unknown fallback pool %q", name, other))
		}
	}

	return problems
}
