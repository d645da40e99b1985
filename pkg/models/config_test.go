package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() MigrationConfig {
	return MigrationConfig{
		Name:      "crm-sync",
		SourceEnv: "dev",
		TargetEnv: "prod",
		Mappings: []EntityMapping{
			{
				SourceEntity: "account",
				TargetEntity: "account",
				Priority:     0,
				Permissions:  OperationPermissions{AllowCreate: true, AllowUpdate: true},
			},
			{
				SourceEntity: "contact",
				TargetEntity: "contact",
				Priority:     1,
				Permissions:  OperationPermissions{AllowCreate: true},
				Resolvers: []Resolver{{
					Name:         "account_ref",
					SourceEntity: "account",
					MatchFields:  []MatchField{{Source: "accountname", Target: "name"}},
					Fallback:     FallbackError,
				}},
				FieldMappings: []FieldMapping{{
					TargetField: "accountid",
					Transform:   TransformSpec{Type: TransformLookup, Resolver: "account_ref"},
				}},
			},
		},
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateDuplicateSourceEntity(t *testing.T) {
	cfg := validConfig()
	cfg.Mappings = append(cfg.Mappings, EntityMapping{SourceEntity: "account", TargetEntity: "account2"})
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateUnknownResolver(t *testing.T) {
	cfg := validConfig()
	cfg.Mappings[1].FieldMappings[0].Transform.Resolver = "missing"
	assert.ErrorContains(t, cfg.Validate(), "unknown resolver")
}

func TestMappingsByPriority(t *testing.T) {
	cfg := MigrationConfig{
		Name: "c", SourceEnv: "s", TargetEnv: "t",
		Mappings: []EntityMapping{
			{SourceEntity: "c", TargetEntity: "c", Priority: 2},
			{SourceEntity: "a", TargetEntity: "a", Priority: 0},
			{SourceEntity: "b1", TargetEntity: "b1", Priority: 1},
			{SourceEntity: "b2", TargetEntity: "b2", Priority: 1},
		},
	}
	ordered := cfg.MappingsByPriority()
	var names []string
	for _, m := range ordered {
		names = append(names, m.SourceEntity)
	}
	// stable sort keeps insertion order within a priority tier
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, names)
}

func TestMatchFieldsDefaultsToPrimaryKey(t *testing.T) {
	m := EntityMapping{SourceEntity: "account", TargetEntity: "account"}
	assert.Equal(t, []string{"accountid"}, m.MatchFields())

	m.MatchOn = []string{"name", "city"}
	assert.Equal(t, []string{"name", "city"}, m.MatchFields())
}

func TestResolverValidate(t *testing.T) {
	r := Resolver{Name: "r", SourceEntity: "account"}
	assert.Error(t, r.Validate())

	r.MatchFields = []MatchField{{Source: "a", Target: "b"}}
	assert.NoError(t, r.Validate())

	r.Fallback = "explode"
	assert.Error(t, r.Validate())
}

func TestTransformSpecValidate(t *testing.T) {
	cases := []struct {
		name string
		spec TransformSpec
		ok   bool
	}{
		{"copy", TransformSpec{Type: TransformCopy, Source: "name"}, true},
		{"copy two segments", TransformSpec{Type: TransformCopy, Source: "account.name"}, true},
		{"copy three segments", TransformSpec{Type: TransformCopy, Source: "a.b.c"}, false},
		{"copy empty", TransformSpec{Type: TransformCopy}, false},
		{"constant", TransformSpec{Type: TransformConstant, Value: "x"}, true},
		{"constant nil", TransformSpec{Type: TransformConstant}, false},
		{"concat", TransformSpec{Type: TransformConcat, Parts: []ConcatPart{{Field: "a"}, {Literal: "-"}}}, true},
		{"concat empty", TransformSpec{Type: TransformConcat}, false},
		{"lookup", TransformSpec{Type: TransformLookup, Resolver: "r"}, true},
		{"lookup no resolver", TransformSpec{Type: TransformLookup}, false},
		{"conditional", TransformSpec{Type: TransformConditional, Source: "status", Condition: &Condition{Op: CondEquals, Value: "x"}}, true},
		{"conditional bad op", TransformSpec{Type: TransformConditional, Source: "status", Condition: &Condition{Op: "like"}}, false},
		{"unknown", TransformSpec{Type: "reverse"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
