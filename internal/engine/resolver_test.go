package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/pkg/models"
)

func accountResolver(fallback models.ResolverFallback) models.Resolver {
	return models.Resolver{
		Name:         "account_ref",
		SourceEntity: "account",
		MatchFields:  []models.MatchField{{Source: "accountname", Target: "name"}},
		Fallback:     fallback,
	}
}

func TestResolverNormalizedMatch(t *testing.T) {
	idx := BuildResolverIndex(accountResolver(models.FallbackError), []remote.Record{
		{"accountid": "a1", "name": "  Acme Corp "},
	})

	id, ok := idx.Resolve(remote.Record{"accountname": "ACME CORP"})
	require.True(t, ok)
	assert.Equal(t, "a1", id)

	_, ok = idx.Resolve(remote.Record{"accountname": "Globex"})
	assert.False(t, ok)
}

func TestResolverCompositeKey(t *testing.T) {
	rule := models.Resolver{
		Name:         "branch_ref",
		SourceEntity: "branch",
		MatchFields: []models.MatchField{
			{Source: "branchname", Target: "name"},
			{Source: "city", Target: "city"},
		},
	}
	idx := BuildResolverIndex(rule, []remote.Record{
		{"branchid": "b1", "name": "North", "city": "Oslo"},
		{"branchid": "b2", "name": "North", "city": "Bergen"},
	})

	id, ok := idx.Resolve(remote.Record{"branchname": "north", "city": "bergen"})
	require.True(t, ok)
	assert.Equal(t, "b2", id)
}

func TestResolverFirstRecordWinsDuplicateKey(t *testing.T) {
	idx := BuildResolverIndex(accountResolver(models.FallbackError), []remote.Record{
		{"accountid": "a1", "name": "Acme"},
		{"accountid": "a2", "name": "acme"},
		{"accountid": "a3", "name": "ACME "},
	})

	id, ok := idx.Resolve(remote.Record{"accountname": "Acme"})
	require.True(t, ok)
	assert.Equal(t, "a1", id)
	assert.Equal(t, 2, idx.Duplicates())
}

func TestResolverNilSourceValueNeverMatches(t *testing.T) {
	idx := BuildResolverIndex(accountResolver(models.FallbackError), []remote.Record{
		{"accountid": "a1", "name": "Acme"},
	})
	_, ok := idx.Resolve(remote.Record{"accountname": nil})
	assert.False(t, ok)
	_, ok = idx.Resolve(remote.Record{})
	assert.False(t, ok)
}

func TestResolverTwoSegmentSourcePath(t *testing.T) {
	rule := models.Resolver{
		Name:         "owner_ref",
		SourceEntity: "user",
		MatchFields:  []models.MatchField{{Source: "owner.fullname", Target: "fullname"}},
	}
	idx := BuildResolverIndex(rule, []remote.Record{
		{"userid": "u1", "fullname": "Jo Smith"},
	})

	source := remote.Record{"owner": map[string]interface{}{"fullname": "jo smith"}}
	id, ok := idx.Resolve(source)
	require.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestResolverSkipsRecordsWithoutPrimaryKey(t *testing.T) {
	idx := BuildResolverIndex(accountResolver(models.FallbackError), []remote.Record{
		{"name": "Acme"},
	})
	_, ok := idx.Resolve(remote.Record{"accountname": "Acme"})
	assert.False(t, ok)
}
