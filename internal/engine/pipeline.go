package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/pkg/models"
)

// QueueSink receives built queue items. Satisfied by the store.
type QueueSink interface {
	Enqueue(item *models.QueueItem) error
}

// Pipeline runs a migration config end to end: load mappings, fetch,
// transform, filter and enqueue.
type Pipeline struct {
	Configs ConfigSource
	Queue   QueueSink
	Source  remote.Client
	Target  remote.Client

	QueueName        string
	BatchSize        int
	FetchConcurrency int
	DryRun           bool
	Reporter         *Reporter
}

// RunSummary accounts for every operation a run produced.
type RunSummary struct {
	Config   string
	Mappings int
	Items    int
	Counts   map[models.OpKind]int
	Warnings []string
}

func (s *RunSummary) String() string {
	return fmt.Sprintf("config %s: %d mappings, %d queue items (create=%d update=%d delete=%d deactivate=%d skip=%d error=%d)",
		s.Config, s.Mappings, s.Items,
		s.Counts[models.OpCreate], s.Counts[models.OpUpdate],
		s.Counts[models.OpDelete], s.Counts[models.OpDeactivate],
		s.Counts[models.OpSkip], s.Counts[models.OpError])
}

// Run executes every mapping of a config in priority order. Mappings run
// sequentially; the fetches inside one mapping run concurrently up to
// FetchConcurrency.
func (p *Pipeline) Run(ctx context.Context, configName string) (*RunSummary, error) {
	set, err := LoadMappingSet(p.Configs, configName)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		Config:   configName,
		Counts:   make(map[models.OpKind]int),
		Warnings: set.Warnings,
	}
	for _, w := range set.Warnings {
		p.Reporter.Warn(w)
	}

	for i := range set.Ordered {
		mapping := &set.Ordered[i]
		p.Reporter.Status(fmt.Sprintf("mapping %s -> %s", mapping.SourceEntity, mapping.TargetEntity))

		result, err := p.runMapping(ctx, mapping)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", mapping.SourceEntity, err)
		}

		ops := FilterOperations(result, mapping.Permissions)
		for _, op := range ops {
			summary.Counts[op.Kind]++
		}

		items := BuildQueueItems(p.QueueName, configName, mapping.SourceEntity,
			mapping.Priority, p.BatchSize, ops)
		summary.Items += len(items)
		summary.Mappings++

		if p.DryRun {
			continue
		}
		for j := range items {
			if err := p.Queue.Enqueue(&items[j]); err != nil {
				return nil, fmt.Errorf("mapping %s: %w", mapping.SourceEntity, err)
			}
		}
	}
	return summary, nil
}

func (p *Pipeline) runMapping(ctx context.Context, mapping *models.EntityMapping) (*TransformResult, error) {
	if mapping.Scripted() {
		return p.runScripted(ctx, mapping)
	}
	return p.runDeclarative(ctx, mapping)
}

// runScripted validates the script before fetching anything, then fetches
// exactly what the script declared.
func (p *Pipeline) runScripted(ctx context.Context, mapping *models.EntityMapping) (*TransformResult, error) {
	transformer, err := NewScriptedTransformer(mapping, p.Reporter)
	if err != nil {
		return nil, err
	}
	defer transformer.Close()

	decl, err := transformer.Declare()
	if err != nil {
		return nil, err
	}

	source, target, err := p.fetchDeclared(ctx, decl)
	if err != nil {
		return nil, err
	}
	return transformer.Transform(source, target)
}

// runDeclarative derives the data requirements from the mapping itself:
// the source entity, the target entity and every resolver's lookup entity.
func (p *Pipeline) runDeclarative(ctx context.Context, mapping *models.EntityMapping) (*TransformResult, error) {
	decl := models.NewDeclaration()
	decl.Source[mapping.SourceEntity] = models.FetchSpec{
		Entity: mapping.SourceEntity,
		Expand: expandPaths(mapping),
	}
	decl.Target[mapping.TargetEntity] = models.FetchSpec{Entity: mapping.TargetEntity}
	for _, r := range mapping.Resolvers {
		if _, ok := decl.Target[r.SourceEntity]; !ok {
			decl.Target[r.SourceEntity] = models.FetchSpec{Entity: r.SourceEntity}
		}
	}

	source, target, err := p.fetchDeclared(ctx, decl)
	if err != nil {
		return nil, err
	}

	resolvers := make(map[string]*ResolverIndex, len(mapping.Resolvers))
	for _, rule := range mapping.Resolvers {
		idx := BuildResolverIndex(rule, target[rule.SourceEntity])
		if n := idx.Duplicates(); n > 0 {
			p.Reporter.Warn(fmt.Sprintf("resolver %s: %d records shadowed by duplicate keys", rule.Name, n))
		}
		resolvers[rule.Name] = idx
	}

	transformer := NewDeclarativeTransformer(mapping, resolvers, p.Reporter)
	return transformer.Transform(source[mapping.SourceEntity], target[mapping.TargetEntity])
}

// fetchDeclared pulls every declared record set, bounded by
// FetchConcurrency. Results keep their declared entity keys.
func (p *Pipeline) fetchDeclared(ctx context.Context, decl models.Declaration) (source, target map[string][]remote.Record, err error) {
	source = make(map[string][]remote.Record, len(decl.Source))
	target = make(map[string][]remote.Record, len(decl.Target))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := p.FetchConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	fetch := func(client remote.Client, spec models.FetchSpec, dest map[string][]remote.Record) {
		g.Go(func() error {
			records, err := client.Fetch(gctx, spec)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", spec.Entity, err)
			}
			mu.Lock()
			dest[spec.Entity] = records
			mu.Unlock()
			return nil
		})
	}
	for _, spec := range decl.Source {
		fetch(p.Source, spec, source)
	}
	for _, spec := range decl.Target {
		fetch(p.Target, spec, target)
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return source, target, nil
}

// expandPaths collects the lookup fields two-segment source paths traverse,
// so the fetch returns the nested records those paths need.
func expandPaths(mapping *models.EntityMapping) []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(path string) {
		if i := strings.IndexByte(path, '.'); i > 0 {
			head := path[:i]
			if !seen[head] {
				seen[head] = true
				paths = append(paths, head)
			}
		}
	}
	for _, fm := range mapping.FieldMappings {
		switch fm.Transform.Type {
		case models.TransformCopy, models.TransformConditional:
			add(fm.Transform.Source)
		case models.TransformConcat:
			for _, part := range fm.Transform.Parts {
				if part.Field != "" {
					add(part.Field)
				}
			}
		}
	}
	for _, r := range mapping.Resolvers {
		for _, mf := range r.MatchFields {
			add(mf.Source)
		}
	}
	return paths
}
