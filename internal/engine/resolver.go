package engine

import (
	"fmt"
	"strings"

	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/pkg/models"
)

// keySep joins composite key parts. A control character keeps distinct
// field tuples from colliding after concatenation.
const keySep = "\x1f"

// ResolverIndex is one resolver's prebuilt lookup table: normalized
// composite keys of the target-side records mapped to their primary key
// values. Built once per mapping run, before any record is transformed.
type ResolverIndex struct {
	rule       models.Resolver
	byKey      map[string]string
	duplicates map[string]int
}

// BuildResolverIndex indexes fetched target-side records for a resolver
// rule. When several records share a normalized key the first in fetch
// order wins and the collision is counted.
func BuildResolverIndex(rule models.Resolver, records []remote.Record) *ResolverIndex {
	idx := &ResolverIndex{
		rule:       rule,
		byKey:      make(map[string]string, len(records)),
		duplicates: make(map[string]int),
	}
	pk := models.PrimaryKeyField(rule.SourceEntity)
	for _, rec := range records {
		id, ok := rec[pk].(string)
		if !ok || id == "" {
			continue
		}
		key, ok := idx.keyFromRecord(rec, func(mf models.MatchField) string { return mf.Target })
		if !ok {
			continue
		}
		if _, exists := idx.byKey[key]; exists {
			idx.duplicates[key]++
			continue
		}
		idx.byKey[key] = id
	}
	return idx
}

// Resolve maps a source record to the target identifier, using the
// resolver's source-side field paths. The second return reports whether a
// match was found; the resolver's fallback decides what a miss means.
func (idx *ResolverIndex) Resolve(source remote.Record) (string, bool) {
	key, ok := idx.keyFromRecord(source, func(mf models.MatchField) string { return mf.Source })
	if !ok {
		return "", false
	}
	id, found := idx.byKey[key]
	return id, found
}

// Key returns the normalized composite key a source record produces, for
// error messages.
func (idx *ResolverIndex) Key(source remote.Record) string {
	key, _ := idx.keyFromRecord(source, func(mf models.MatchField) string { return mf.Source })
	return strings.ReplaceAll(key, keySep, "|")
}

// Duplicates returns how many indexed records were shadowed by an earlier
// record with the same key.
func (idx *ResolverIndex) Duplicates() int {
	total := 0
	for _, n := range idx.duplicates {
		total += n
	}
	return total
}

func (idx *ResolverIndex) keyFromRecord(rec remote.Record, field func(models.MatchField) string) (string, bool) {
	parts := make([]string, 0, len(idx.rule.MatchFields))
	for _, mf := range idx.rule.MatchFields {
		v, ok := lookupPath(rec, field(mf))
		if !ok || v == nil {
			return "", false
		}
		parts = append(parts, normalize(v))
	}
	return strings.Join(parts, keySep), true
}

// normalize lowercases and trims a value's string form so matching is
// case- and whitespace-insensitive.
func normalize(v interface{}) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	default:
		s = fmt.Sprintf("%v", t)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// lookupPath reads a one- or two-segment field path from a record. The
// second segment descends into an expanded nested record.
func lookupPath(rec remote.Record, path string) (interface{}, bool) {
	segments := strings.SplitN(path, ".", 2)
	v, ok := rec[segments[0]]
	if !ok {
		return nil, false
	}
	if len(segments) == 1 {
		return v, true
	}
	nested, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	inner, ok := nested[segments[1]]
	return inner, ok
}
