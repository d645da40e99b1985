package models

import (
	"fmt"
	"sort"
	"strings"
)

// MigrationConfig pairs a source and target environment and owns an ordered
// set of entity mappings. Configs are operator-authored and long-lived.
type MigrationConfig struct {
	ID        string          `json:"-" yaml:"-"`
	Name      string          `json:"name" yaml:"name"`
	SourceEnv string          `json:"source_env" yaml:"source_env"`
	TargetEnv string          `json:"target_env" yaml:"target_env"`
	Mappings  []EntityMapping `json:"mappings" yaml:"mappings"`
}

// MappingsByPriority returns the entity mappings sorted ascending by
// priority, ties broken by insertion order. The order is the execution order.
func (c *MigrationConfig) MappingsByPriority() []EntityMapping {
	sorted := make([]EntityMapping, len(c.Mappings))
	copy(sorted, c.Mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// FindMapping returns the mapping for a source entity, or nil.
func (c *MigrationConfig) FindMapping(sourceEntity string) *EntityMapping {
	for i := range c.Mappings {
		if c.Mappings[i].SourceEntity == sourceEntity {
			return &c.Mappings[i]
		}
	}
	return nil
}

// Validate checks structural invariants before a config is saved or run.
func (c *MigrationConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.SourceEnv == "" || c.TargetEnv == "" {
		return fmt.Errorf("config %q: source_env and target_env are required", c.Name)
	}
	seen := make(map[string]bool)
	for i := range c.Mappings {
		m := &c.Mappings[i]
		if m.SourceEntity == "" || m.TargetEntity == "" {
			return fmt.Errorf("config %q: mapping %d: source_entity and target_entity are required", c.Name, i)
		}
		if seen[m.SourceEntity] {
			return fmt.Errorf("config %q: duplicate mapping for source entity %q", c.Name, m.SourceEntity)
		}
		seen[m.SourceEntity] = true
		if err := m.Validate(); err != nil {
			return fmt.Errorf("config %q: mapping %q: %w", c.Name, m.SourceEntity, err)
		}
	}
	return nil
}

// OrphanPolicy controls what happens to target records that have no
// corresponding source record under a mapping.
type OrphanPolicy string

const (
	OrphanIgnore     OrphanPolicy = "ignore"
	OrphanDelete     OrphanPolicy = "delete"
	OrphanDeactivate OrphanPolicy = "deactivate"
)

// OperationPermissions gates which operation kinds a mapping may emit.
type OperationPermissions struct {
	AllowCreate     bool `json:"allow_create" yaml:"allow_create"`
	AllowUpdate     bool `json:"allow_update" yaml:"allow_update"`
	AllowDelete     bool `json:"allow_delete" yaml:"allow_delete"`
	AllowDeactivate bool `json:"allow_deactivate" yaml:"allow_deactivate"`
}

// EntityMapping maps one source entity to one target entity within a config.
// Priority establishes dependency order: mappings whose records are referenced
// by other mappings' resolvers must carry lower priority values. The system
// does not infer dependency order.
type EntityMapping struct {
	ID           string `json:"-" yaml:"-"`
	SourceEntity string `json:"source_entity" yaml:"source_entity"`
	TargetEntity string `json:"target_entity" yaml:"target_entity"`
	Priority     int    `json:"priority" yaml:"priority"`
	// MatchOn lists the target fields forming the natural key used to decide
	// create vs update. Empty means the target entity's primary key field.
	MatchOn     []string             `json:"match_on,omitempty" yaml:"match_on,omitempty"`
	Permissions OperationPermissions `json:"permissions" yaml:"permissions"`
	Orphans     OrphanPolicy         `json:"orphans,omitempty" yaml:"orphans,omitempty"`
	// Script holds a transform script. When non-empty the mapping runs in
	// scripted mode and FieldMappings are ignored.
	Script          string          `json:"script,omitempty" yaml:"script,omitempty"`
	FieldMappings   []FieldMapping  `json:"field_mappings,omitempty" yaml:"field_mappings,omitempty"`
	Resolvers       []Resolver      `json:"resolvers,omitempty" yaml:"resolvers,omitempty"`
	NegativeMatches []NegativeMatch `json:"negative_matches,omitempty" yaml:"negative_matches,omitempty"`
}

// Scripted reports whether the mapping uses the scripted transform strategy.
func (m *EntityMapping) Scripted() bool { return m.Script != "" }

// MatchFields returns the natural-key fields, defaulting to the target
// entity's primary key field.
func (m *EntityMapping) MatchFields() []string {
	if len(m.MatchOn) > 0 {
		return m.MatchOn
	}
	return []string{PrimaryKeyField(m.TargetEntity)}
}

func (m *EntityMapping) Validate() error {
	if m.Priority < 0 {
		return fmt.Errorf("priority must be non-negative")
	}
	switch m.Orphans {
	case "", OrphanIgnore, OrphanDelete, OrphanDeactivate:
	default:
		return fmt.Errorf("invalid orphan policy %q", m.Orphans)
	}
	names := make(map[string]bool)
	for i := range m.Resolvers {
		r := &m.Resolvers[i]
		if r.Name == "" {
			return fmt.Errorf("resolver %d: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate resolver name %q", r.Name)
		}
		names[r.Name] = true
		if err := r.Validate(); err != nil {
			return fmt.Errorf("resolver %q: %w", r.Name, err)
		}
	}
	for i := range m.FieldMappings {
		fm := &m.FieldMappings[i]
		if err := fm.Validate(); err != nil {
			return fmt.Errorf("field mapping %d (%s): %w", i, fm.TargetField, err)
		}
		if fm.Transform.Type == TransformLookup && !names[fm.Transform.Resolver] {
			return fmt.Errorf("field mapping %q references unknown resolver %q", fm.TargetField, fm.Transform.Resolver)
		}
	}
	return nil
}

// FieldMapping produces one target field from source data (declarative mode).
type FieldMapping struct {
	ID          string        `json:"-" yaml:"-"`
	TargetField string        `json:"target_field" yaml:"target_field"`
	Transform   TransformSpec `json:"transform" yaml:"transform"`
}

func (f *FieldMapping) Validate() error {
	if f.TargetField == "" {
		return fmt.Errorf("target_field is required")
	}
	return f.Transform.Validate()
}

// NegativeMatch suppresses automatic name matching for one source field of an
// entity pair. Explicit field mappings are unaffected.
type NegativeMatch struct {
	SourceEntity string `json:"source_entity" yaml:"source_entity"`
	TargetEntity string `json:"target_entity" yaml:"target_entity"`
	SourceField  string `json:"source_field" yaml:"source_field"`
}

// ResolverFallback selects the behavior when a resolver finds no match.
type ResolverFallback string

const (
	// FallbackError turns the owning record's operation into an Error.
	FallbackError ResolverFallback = "error"
	// FallbackSkip turns the owning record's operation into a Skip.
	FallbackSkip ResolverFallback = "skip"
	// FallbackSetNull omits the field from the output.
	FallbackSetNull ResolverFallback = "setnull"
)

// ParseResolverFallback parses a stored fallback string.
func ParseResolverFallback(s string) (ResolverFallback, error) {
	switch strings.ToLower(s) {
	case "", "error":
		return FallbackError, nil
	case "skip":
		return FallbackSkip, nil
	case "setnull", "null":
		return FallbackSetNull, nil
	default:
		return "", fmt.Errorf("invalid resolver fallback %q", s)
	}
}

// MatchField pairs a source record field with the target field it must equal.
type MatchField struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Resolver is a named lookup rule translating a source-side reference into a
// target-side identifier by composite field matching. Each resolver belongs
// to exactly one entity mapping.
type Resolver struct {
	ID   string `json:"-" yaml:"-"`
	Name string `json:"name" yaml:"name"`
	// SourceEntity names the entity whose fetched records are searched.
	SourceEntity string `json:"source_entity" yaml:"source_entity"`
	// MatchFields form the composite key; all must match (AND).
	MatchFields []MatchField     `json:"match_fields" yaml:"match_fields"`
	Fallback    ResolverFallback `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

func (r *Resolver) Validate() error {
	if r.SourceEntity == "" {
		return fmt.Errorf("source_entity is required")
	}
	if len(r.MatchFields) == 0 {
		return fmt.Errorf("at least one match field is required")
	}
	for _, mf := range r.MatchFields {
		if mf.Source == "" || mf.Target == "" {
			return fmt.Errorf("match fields require source and target names")
		}
	}
	if _, err := ParseResolverFallback(string(r.Fallback)); err != nil {
		return err
	}
	return nil
}

// PrimaryKeyField returns the conventional primary key field name for an
// entity ("account" -> "accountid").
func PrimaryKeyField(entity string) string {
	return entity + "id"
}
