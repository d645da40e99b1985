package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recmig/recmig/pkg/models"
)

type fakeConfigSource struct {
	configs map[string]*models.MigrationConfig
}

func (f *fakeConfigSource) GetConfig(name string) (*models.MigrationConfig, error) {
	cfg, ok := f.configs[name]
	if !ok {
		return nil, models.ErrConfigNotFound
	}
	return cfg, nil
}

func TestLoadMappingSetOrdersByPriority(t *testing.T) {
	src := &fakeConfigSource{configs: map[string]*models.MigrationConfig{
		"sync": {
			Name: "sync", SourceEnv: "dev", TargetEnv: "prod",
			Mappings: []models.EntityMapping{
				{SourceEntity: "contact", TargetEntity: "contact", Priority: 1},
				{SourceEntity: "account", TargetEntity: "account", Priority: 0},
			},
		},
	}}

	set, err := LoadMappingSet(src, "sync")
	require.NoError(t, err)
	require.Len(t, set.Ordered, 2)
	assert.Equal(t, "account", set.Ordered[0].SourceEntity)
	assert.Equal(t, "contact", set.Ordered[1].SourceEntity)
	assert.Empty(t, set.Warnings)
}

func TestLoadMappingSetMissingConfig(t *testing.T) {
	src := &fakeConfigSource{configs: map[string]*models.MigrationConfig{}}
	_, err := LoadMappingSet(src, "nope")
	assert.ErrorIs(t, err, models.ErrConfigNotFound)
}

func TestCheckPrioritiesWarnsOnLateDependency(t *testing.T) {
	src := &fakeConfigSource{configs: map[string]*models.MigrationConfig{
		"sync": {
			Name: "sync", SourceEnv: "dev", TargetEnv: "prod",
			Mappings: []models.EntityMapping{
				{
					SourceEntity: "contact", TargetEntity: "contact", Priority: 0,
					Resolvers: []models.Resolver{{
						Name:         "account_ref",
						SourceEntity: "account",
						MatchFields:  []models.MatchField{{Source: "a", Target: "b"}},
					}},
				},
				{SourceEntity: "account", TargetEntity: "account", Priority: 1},
			},
		},
	}}

	set, err := LoadMappingSet(src, "sync")
	require.NoError(t, err)
	require.Len(t, set.Warnings, 1)
	assert.Contains(t, set.Warnings[0], "account_ref")
}
