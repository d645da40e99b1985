package engine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/pkg/models"
)

// TransformResult is a mapping run's output before filtering. Orphan
// operations are kept apart because permission filtering treats them
// differently from record operations.
type TransformResult struct {
	Operations []models.Operation
	Orphans    []models.Operation
}

// DeclarativeTransformer turns fetched source records into operations using
// a mapping's field rules. One instance serves one mapping run.
type DeclarativeTransformer struct {
	mapping   *models.EntityMapping
	resolvers map[string]*ResolverIndex
	reporter  *Reporter
}

func NewDeclarativeTransformer(m *models.EntityMapping, resolvers map[string]*ResolverIndex, reporter *Reporter) *DeclarativeTransformer {
	return &DeclarativeTransformer{mapping: m, resolvers: resolvers, reporter: reporter}
}

// Transform maps every source record to one operation, matches against the
// existing target records to decide create vs update, and derives orphan
// operations per the mapping's orphan policy. Record order is preserved.
func (t *DeclarativeTransformer) Transform(source, target []remote.Record) (*TransformResult, error) {
	rules, err := t.fieldRules(source, target)
	if err != nil {
		return nil, err
	}

	matchFields := t.mapping.MatchFields()
	targetByKey := indexByMatchFields(target, matchFields)
	pk := models.PrimaryKeyField(t.mapping.TargetEntity)

	result := &TransformResult{}
	matched := make(map[string]bool)

	for i, rec := range source {
		t.reporter.Progress(i+1, len(source))

		fields, failOp := t.applyRules(rules, rec)
		if failOp != nil {
			result.Operations = append(result.Operations, *failOp)
			continue
		}

		key, ok := matchKey(fields, matchFields)
		if !ok {
			result.Operations = append(result.Operations, models.NewError(
				t.mapping.TargetEntity, "",
				fmt.Sprintf("record produces no value for match fields %v", matchFields)))
			continue
		}

		existing, found := targetByKey[key]
		if !found {
			result.Operations = append(result.Operations, models.NewCreate(t.mapping.TargetEntity, fields))
			continue
		}
		matched[key] = true

		id, _ := existing[pk].(string)
		changed := diffFields(fields, existing)
		if len(changed) == 0 {
			result.Operations = append(result.Operations,
				models.NewSkip(t.mapping.TargetEntity, id, "no changes"))
			continue
		}
		result.Operations = append(result.Operations,
			models.NewUpdate(t.mapping.TargetEntity, id, changed))
	}

	result.Orphans = t.orphanOperations(target, targetByKey, matched, pk)
	return result, nil
}

// fieldRule binds one target field to its transform.
type fieldRule struct {
	target string
	spec   models.TransformSpec
}

// fieldRules combines automatic name matching with explicit field mappings.
// A field present on both sides copies by name unless a negative match
// suppresses it; explicit mappings always win for their target field.
func (t *DeclarativeTransformer) fieldRules(source, target []remote.Record) ([]fieldRule, error) {
	suppressed := make(map[string]bool)
	for _, nm := range t.mapping.NegativeMatches {
		if nm.SourceEntity == t.mapping.SourceEntity && nm.TargetEntity == t.mapping.TargetEntity {
			suppressed[nm.SourceField] = true
		}
	}

	explicit := make(map[string]bool)
	var rules []fieldRule
	for _, fm := range t.mapping.FieldMappings {
		explicit[fm.TargetField] = true
		rules = append(rules, fieldRule{target: fm.TargetField, spec: fm.Transform})
	}

	sourceFields := fieldUnion(source)
	targetFields := fieldUnion(target)
	targetPK := models.PrimaryKeyField(t.mapping.TargetEntity)

	var auto []string
	for f := range sourceFields {
		if !targetFields[f] || suppressed[f] || explicit[f] || f == targetPK {
			continue
		}
		auto = append(auto, f)
	}
	sort.Strings(auto)
	for _, f := range auto {
		rules = append(rules, fieldRule{target: f, spec: models.TransformSpec{Type: models.TransformCopy, Source: f}})
	}

	if len(rules) == 0 {
		return nil, &models.ValidationError{
			Subject: t.mapping.SourceEntity,
			Reason:  "no field rules: no common fields and no explicit field mappings",
		}
	}
	return rules, nil
}

// applyRules produces the target field set for one source record. A resolver
// miss under the error or skip fallback converts the whole record into an
// Error or Skip operation, returned as failOp.
func (t *DeclarativeTransformer) applyRules(rules []fieldRule, rec remote.Record) (map[string]interface{}, *models.Operation) {
	fields := make(map[string]interface{}, len(rules))
	for _, rule := range rules {
		value, action, err := t.evaluate(rule.spec, rec)
		if err != nil {
			op := models.NewError(t.mapping.TargetEntity, "", err.Error())
			return nil, &op
		}
		switch action {
		case fieldSet:
			fields[rule.target] = value
		case fieldOmit:
		case fieldSkipRecord:
			op := models.NewSkip(t.mapping.TargetEntity, "",
				fmt.Sprintf("resolver %s found no match", rule.spec.Resolver))
			return nil, &op
		}
	}
	return fields, nil
}

type fieldAction int

const (
	fieldSet fieldAction = iota
	fieldOmit
	fieldSkipRecord
)

func (t *DeclarativeTransformer) evaluate(spec models.TransformSpec, rec remote.Record) (interface{}, fieldAction, error) {
	switch spec.Type {
	case models.TransformCopy:
		v, _ := lookupPath(rec, spec.Source)
		return v, fieldSet, nil

	case models.TransformConstant:
		return dynamicValue(spec.Value), fieldSet, nil

	case models.TransformConcat:
		var b strings.Builder
		for _, p := range spec.Parts {
			if p.Literal != "" {
				b.WriteString(p.Literal)
				continue
			}
			v, ok := lookupPath(rec, p.Field)
			if ok && v != nil {
				fmt.Fprintf(&b, "%v", v)
			}
		}
		return b.String(), fieldSet, nil

	case models.TransformLookup:
		idx, ok := t.resolvers[spec.Resolver]
		if !ok {
			return nil, fieldSet, fmt.Errorf("resolver %q is not built", spec.Resolver)
		}
		id, found := idx.Resolve(rec)
		if found {
			return id, fieldSet, nil
		}
		switch idx.rule.Fallback {
		case models.FallbackSkip:
			return nil, fieldSkipRecord, nil
		case models.FallbackSetNull:
			return nil, fieldOmit, nil
		default:
			return nil, fieldSet, &models.ResolverError{Resolver: spec.Resolver, Key: idx.Key(rec)}
		}

	case models.TransformConditional:
		v, _ := lookupPath(rec, spec.Source)
		if conditionHolds(spec.Condition, v) {
			return dynamicValue(spec.Then), fieldSet, nil
		}
		return dynamicValue(spec.Else), fieldSet, nil
	}
	return nil, fieldSet, fmt.Errorf("unknown transform type %q", spec.Type)
}

// orphanOperations emits delete or deactivate operations for target records
// no source record matched, per the mapping's orphan policy.
func (t *DeclarativeTransformer) orphanOperations(target []remote.Record, targetByKey map[string]remote.Record, matched map[string]bool, pk string) []models.Operation {
	if t.mapping.Orphans == "" || t.mapping.Orphans == models.OrphanIgnore {
		return nil
	}
	var ops []models.Operation
	for _, rec := range target {
		key, ok := matchKey(rec, t.mapping.MatchFields())
		if !ok || matched[key] {
			continue
		}
		// Only the key's winning record gets an operation.
		winner, _ := targetByKey[key]
		id, _ := rec[pk].(string)
		wid, _ := winner[pk].(string)
		if id == "" || id != wid {
			continue
		}
		switch t.mapping.Orphans {
		case models.OrphanDelete:
			ops = append(ops, models.NewDelete(t.mapping.TargetEntity, id))
		case models.OrphanDeactivate:
			ops = append(ops, models.NewDeactivate(t.mapping.TargetEntity, id))
		}
	}
	return ops
}

// dynamicValue resolves the $now and $guid constants at transform time.
func dynamicValue(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case models.DynamicNow:
		return time.Now().UTC().Format(time.RFC3339)
	case models.DynamicGUID:
		return uuid.NewString()
	}
	return v
}

func conditionHolds(c *models.Condition, v interface{}) bool {
	switch c.Op {
	case models.CondIsNull:
		return v == nil
	case models.CondNotNull:
		return v != nil
	case models.CondEquals:
		return valuesEqual(v, c.Value)
	case models.CondNotEquals:
		return !valuesEqual(v, c.Value)
	}
	return false
}

// fieldUnion collects every field name present in a record set.
func fieldUnion(records []remote.Record) map[string]bool {
	union := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			union[k] = true
		}
	}
	return union
}

// indexByMatchFields indexes records by their normalized natural key. The
// first record in fetch order wins a key collision.
func indexByMatchFields(records []remote.Record, matchFields []string) map[string]remote.Record {
	index := make(map[string]remote.Record, len(records))
	for _, rec := range records {
		key, ok := matchKey(rec, matchFields)
		if !ok {
			continue
		}
		if _, exists := index[key]; !exists {
			index[key] = rec
		}
	}
	return index
}

func matchKey(fields map[string]interface{}, matchFields []string) (string, bool) {
	parts := make([]string, 0, len(matchFields))
	for _, f := range matchFields {
		v, ok := fields[f]
		if !ok || v == nil {
			return "", false
		}
		parts = append(parts, normalize(v))
	}
	return strings.Join(parts, keySep), true
}

// diffFields returns the produced fields whose values differ from the
// existing record. Absent and null are the same thing.
func diffFields(produced map[string]interface{}, existing remote.Record) map[string]interface{} {
	changed := make(map[string]interface{})
	for k, v := range produced {
		cur, ok := existing[k]
		if !ok {
			cur = nil
		}
		if !valuesEqual(v, cur) {
			changed[k] = v
		}
	}
	return changed
}

// valuesEqual compares field values loosely: nil equals nil, numbers compare
// across integer and float representations. Slices and nested documents
// compare structurally so array-valued fields never hit an uncomparable ==.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
