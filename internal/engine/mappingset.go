package engine

import (
	"fmt"

	"github.com/recmig/recmig/pkg/models"
)

// ConfigSource loads migration configs by name. Satisfied by the store.
type ConfigSource interface {
	GetConfig(name string) (*models.MigrationConfig, error)
}

// MappingSet is a config's entity mappings in execution order, resolved and
// ready to run.
type MappingSet struct {
	Config   *models.MigrationConfig
	Ordered  []models.EntityMapping
	Warnings []string
}

// LoadMappingSet resolves a config by name and orders its mappings by
// priority, ties broken by stored order. Missing configs surface
// models.ErrConfigNotFound.
func LoadMappingSet(src ConfigSource, name string) (*MappingSet, error) {
	cfg, err := src.GetConfig(name)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	set := &MappingSet{
		Config:  cfg,
		Ordered: cfg.MappingsByPriority(),
	}
	set.Warnings = checkPriorities(set.Ordered)
	return set, nil
}

// checkPriorities warns when a resolver reads an entity whose mapping runs
// at the same or a later priority, meaning the lookup data may not exist
// yet. Ordering is the operator's responsibility; these are warnings only.
func checkPriorities(ordered []models.EntityMapping) []string {
	position := make(map[string]int, len(ordered))
	for i, m := range ordered {
		position[m.SourceEntity] = i
	}

	var warnings []string
	for i, m := range ordered {
		for _, r := range m.Resolvers {
			j, ok := position[r.SourceEntity]
			if !ok {
				continue
			}
			if j >= i {
				warnings = append(warnings, fmt.Sprintf(
					"mapping %q resolver %q reads entity %q, which is migrated at priority %d (not before priority %d)",
					m.SourceEntity, r.Name, r.SourceEntity, ordered[j].Priority, m.Priority))
			}
		}
	}
	return warnings
}
