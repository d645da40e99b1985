package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/pkg/models"
)

func accountMapping() *models.EntityMapping {
	return &models.EntityMapping{
		SourceEntity: "account",
		TargetEntity: "account",
		MatchOn:      []string{"name"},
		Permissions:  models.OperationPermissions{AllowCreate: true, AllowUpdate: true},
	}
}

func transform(t *testing.T, m *models.EntityMapping, resolvers map[string]*ResolverIndex, source, target []remote.Record) *TransformResult {
	t.Helper()
	result, err := NewDeclarativeTransformer(m, resolvers, nil).Transform(source, target)
	require.NoError(t, err)
	return result
}

func TestDeclarativeAutoNameMatching(t *testing.T) {
	source := []remote.Record{{"name": "Acme", "city": "Oslo", "internal": "x"}}
	target := []remote.Record{{"accountid": "ignored", "name": "placeholder", "city": "placeholder"}}

	// no target record matches "acme", so this becomes a create carrying
	// the fields both sides share
	m := accountMapping()
	result := transform(t, m, nil, source, target)
	require.Len(t, result.Operations, 1)
	op := result.Operations[0]
	assert.Equal(t, models.OpCreate, op.Kind)
	assert.Equal(t, map[string]interface{}{"name": "Acme", "city": "Oslo"}, op.Fields)
}

func TestDeclarativeNegativeMatchSuppressesField(t *testing.T) {
	m := accountMapping()
	m.NegativeMatches = []models.NegativeMatch{
		{SourceEntity: "account", TargetEntity: "account", SourceField: "city"},
	}
	source := []remote.Record{{"name": "Acme", "city": "Oslo"}}
	target := []remote.Record{{"accountid": "a9", "name": "other", "city": "other"}}

	result := transform(t, m, nil, source, target)
	require.Len(t, result.Operations, 1)
	assert.Equal(t, map[string]interface{}{"name": "Acme"}, result.Operations[0].Fields)
}

func TestDeclarativeExplicitMappingOverridesAuto(t *testing.T) {
	m := accountMapping()
	m.FieldMappings = []models.FieldMapping{{
		TargetField: "city",
		Transform:   models.TransformSpec{Type: models.TransformConstant, Value: "Bergen"},
	}}
	source := []remote.Record{{"name": "Acme", "city": "Oslo"}}
	target := []remote.Record{{"accountid": "a9", "name": "other", "city": "other"}}

	result := transform(t, m, nil, source, target)
	require.Len(t, result.Operations, 1)
	assert.Equal(t, "Bergen", result.Operations[0].Fields["city"])
}

func TestDeclarativeCreateVsUpdate(t *testing.T) {
	m := accountMapping()
	source := []remote.Record{
		{"name": "Acme", "city": "Oslo"},    // exists, city differs -> update
		{"name": "Globex", "city": "Bodo"},  // new -> create
		{"name": "Initech", "city": "Trondheim"}, // exists, identical -> skip
	}
	target := []remote.Record{
		{"accountid": "a1", "name": "Acme", "city": "Bergen"},
		{"accountid": "a2", "name": "Initech", "city": "Trondheim"},
	}

	result := transform(t, m, nil, source, target)
	require.Len(t, result.Operations, 3)

	update := result.Operations[0]
	assert.Equal(t, models.OpUpdate, update.Kind)
	assert.Equal(t, "a1", update.ID)
	// diff-only update: name matched, only city changed
	assert.Equal(t, map[string]interface{}{"city": "Oslo"}, update.Fields)

	// matching is case-insensitive even when the stored value differs
	caseSource := []remote.Record{{"name": "ACME", "city": "Bergen"}}
	caseResult := transform(t, m, nil, caseSource, target)
	require.Len(t, caseResult.Operations, 1)
	assert.Equal(t, models.OpUpdate, caseResult.Operations[0].Kind)
	assert.Equal(t, "a1", caseResult.Operations[0].ID)

	assert.Equal(t, models.OpCreate, result.Operations[1].Kind)

	skip := result.Operations[2]
	assert.Equal(t, models.OpSkip, skip.Kind)
	assert.Equal(t, "no changes", skip.Reason)
	assert.Equal(t, "a2", skip.ID)
}

func TestDeclarativeNumericEqualityAcrossTypes(t *testing.T) {
	m := accountMapping()
	source := []remote.Record{{"name": "Acme", "points": int64(10)}}
	target := []remote.Record{{"accountid": "a1", "name": "Acme", "points": float64(10)}}

	result := transform(t, m, nil, source, target)
	require.Len(t, result.Operations, 1)
	assert.Equal(t, models.OpSkip, result.Operations[0].Kind)
}

func TestDeclarativeDiffHandlesCompositeValues(t *testing.T) {
	m := accountMapping()
	source := []remote.Record{
		{"name": "Acme", "tags": []interface{}{"a", "b"}},
		{"name": "Globex", "tags": []interface{}{"x"}, "address": map[string]interface{}{"city": "Oslo"}},
	}
	target := []remote.Record{
		{"accountid": "a1", "name": "Acme", "tags": []interface{}{"a", "b"}},
		{"accountid": "a2", "name": "Globex", "tags": []interface{}{"x", "y"}, "address": map[string]interface{}{"city": "Oslo"}},
	}

	result := transform(t, m, nil, source, target)
	require.Len(t, result.Operations, 2)

	// identical slice values diff to nothing
	assert.Equal(t, models.OpSkip, result.Operations[0].Kind)

	// changed slice diffs, unchanged nested document does not
	update := result.Operations[1]
	assert.Equal(t, models.OpUpdate, update.Kind)
	assert.Equal(t, map[string]interface{}{"tags": []interface{}{"x"}}, update.Fields)
}

func TestDeclarativeResolverFallbacks(t *testing.T) {
	source := []remote.Record{{"name": "Acme", "ownername": "Nobody"}}
	target := []remote.Record{{"accountid": "a1", "name": "zzz"}}
	users := []remote.Record{{"userid": "u1", "fullname": "Jo Smith"}}

	newMapping := func(fallback models.ResolverFallback) (*models.EntityMapping, map[string]*ResolverIndex) {
		rule := models.Resolver{
			Name:         "owner_ref",
			SourceEntity: "user",
			MatchFields:  []models.MatchField{{Source: "ownername", Target: "fullname"}},
			Fallback:     fallback,
		}
		m := accountMapping()
		m.Resolvers = []models.Resolver{rule}
		m.FieldMappings = []models.FieldMapping{{
			TargetField: "ownerid",
			Transform:   models.TransformSpec{Type: models.TransformLookup, Resolver: "owner_ref"},
		}}
		return m, map[string]*ResolverIndex{"owner_ref": BuildResolverIndex(rule, users)}
	}

	t.Run("error", func(t *testing.T) {
		m, resolvers := newMapping(models.FallbackError)
		result := transform(t, m, resolvers, source, target)
		require.Len(t, result.Operations, 1)
		op := result.Operations[0]
		assert.Equal(t, models.OpError, op.Kind)
		assert.Contains(t, op.Message, "owner_ref")
	})

	t.Run("skip", func(t *testing.T) {
		m, resolvers := newMapping(models.FallbackSkip)
		result := transform(t, m, resolvers, source, target)
		require.Len(t, result.Operations, 1)
		op := result.Operations[0]
		assert.Equal(t, models.OpSkip, op.Kind)
		assert.Contains(t, op.Reason, "owner_ref")
	})

	t.Run("setnull omits the field", func(t *testing.T) {
		m, resolvers := newMapping(models.FallbackSetNull)
		result := transform(t, m, resolvers, source, target)
		require.Len(t, result.Operations, 1)
		op := result.Operations[0]
		assert.Equal(t, models.OpCreate, op.Kind)
		_, present := op.Fields["ownerid"]
		assert.False(t, present)
	})

	t.Run("resolved reference lands", func(t *testing.T) {
		m, resolvers := newMapping(models.FallbackError)
		hit := []remote.Record{{"name": "Acme", "ownername": "JO SMITH"}}
		result := transform(t, m, resolvers, hit, target)
		require.Len(t, result.Operations, 1)
		assert.Equal(t, "u1", result.Operations[0].Fields["ownerid"])
	})
}

func TestDeclarativeOrphans(t *testing.T) {
	source := []remote.Record{{"name": "Acme"}}
	target := []remote.Record{
		{"accountid": "a1", "name": "Acme"},
		{"accountid": "a2", "name": "Stale"},
	}

	t.Run("ignore", func(t *testing.T) {
		m := accountMapping()
		result := transform(t, m, nil, source, target)
		assert.Empty(t, result.Orphans)
	})

	t.Run("delete", func(t *testing.T) {
		m := accountMapping()
		m.Orphans = models.OrphanDelete
		result := transform(t, m, nil, source, target)
		require.Len(t, result.Orphans, 1)
		assert.Equal(t, models.OpDelete, result.Orphans[0].Kind)
		assert.Equal(t, "a2", result.Orphans[0].ID)
	})

	t.Run("deactivate", func(t *testing.T) {
		m := accountMapping()
		m.Orphans = models.OrphanDeactivate
		result := transform(t, m, nil, source, target)
		require.Len(t, result.Orphans, 1)
		assert.Equal(t, models.OpDeactivate, result.Orphans[0].Kind)
	})
}

func TestDeclarativeTransformOperators(t *testing.T) {
	m := accountMapping()
	m.FieldMappings = []models.FieldMapping{
		{TargetField: "fullname", Transform: models.TransformSpec{
			Type:  models.TransformConcat,
			Parts: []models.ConcatPart{{Field: "name"}, {Literal: " / "}, {Field: "city"}},
		}},
		{TargetField: "status", Transform: models.TransformSpec{
			Type:      models.TransformConditional,
			Source:    "city",
			Condition: &models.Condition{Op: models.CondIsNull},
			Then:      "unknown",
			Else:      "located",
		}},
		{TargetField: "source", Transform: models.TransformSpec{
			Type: models.TransformConstant, Value: "migration",
		}},
	}
	source := []remote.Record{{"name": "Acme", "city": "Oslo"}}
	target := []remote.Record{{"accountid": "a9", "name": "zzz"}}

	result := transform(t, m, nil, source, target)
	require.Len(t, result.Operations, 1)
	fields := result.Operations[0].Fields
	assert.Equal(t, "Acme / Oslo", fields["fullname"])
	assert.Equal(t, "located", fields["status"])
	assert.Equal(t, "migration", fields["source"])
}

func TestDeclarativeNoFieldRulesFails(t *testing.T) {
	m := accountMapping()
	_, err := NewDeclarativeTransformer(m, nil, nil).Transform(
		[]remote.Record{{"name": "Acme"}}, []remote.Record{})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestDynamicConstants(t *testing.T) {
	guid := dynamicValue(models.DynamicGUID)
	s, ok := guid.(string)
	require.True(t, ok)
	assert.Len(t, s, 36)

	now := dynamicValue(models.DynamicNow)
	assert.NotEqual(t, models.DynamicNow, now)

	assert.Equal(t, "plain", dynamicValue("plain"))
	assert.Equal(t, 7, dynamicValue(7))
}
