package integration

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/recmig/recmig/internal/engine"
	"github.com/recmig/recmig/internal/queue"
	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/internal/store"
	"github.com/recmig/recmig/pkg/models"
)

// memEnvironment is an in-memory record environment keyed by entity.
type memEnvironment struct {
	mu      sync.Mutex
	records map[string][]remote.Record
}

func newMemEnvironment() *memEnvironment {
	return &memEnvironment{records: make(map[string][]remote.Record)}
}

func (m *memEnvironment) seed(entity string, records ...remote.Record) {
	m.records[entity] = append(m.records[entity], records...)
}

func (m *memEnvironment) Fetch(ctx context.Context, spec models.FetchSpec) ([]remote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]remote.Record, len(m.records[spec.Entity]))
	copy(out, m.records[spec.Entity])
	return out, nil
}

func (m *memEnvironment) Execute(ctx context.Context, op models.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := models.PrimaryKeyField(op.Entity)
	switch op.Kind {
	case models.OpCreate:
		rec := remote.Record{}
		for k, v := range op.Fields {
			rec[k] = v
		}
		if _, ok := rec[pk]; !ok {
			rec[pk] = fmt.Sprintf("%s-%d", op.Entity, len(m.records[op.Entity])+1)
		}
		m.records[op.Entity] = append(m.records[op.Entity], rec)
		return nil
	case models.OpUpdate:
		for _, rec := range m.records[op.Entity] {
			if rec[pk] == op.ID {
				for k, v := range op.Fields {
					rec[k] = v
				}
				return nil
			}
		}
		return &models.ApiError{Kind: models.ApiNotFound, Op: "update", Err: fmt.Errorf("no record %s", op.ID)}
	case models.OpDeactivate:
		for _, rec := range m.records[op.Entity] {
			if rec[pk] == op.ID {
				rec["statecode"] = 1
				return nil
			}
		}
		return &models.ApiError{Kind: models.ApiNotFound, Op: "deactivate", Err: fmt.Errorf("no record %s", op.ID)}
	case models.OpDelete:
		records := m.records[op.Entity]
		for i, rec := range records {
			if rec[pk] == op.ID {
				m.records[op.Entity] = append(records[:i], records[i+1:]...)
				return nil
			}
		}
		return &models.ApiError{Kind: models.ApiNotFound, Op: "delete", Err: fmt.Errorf("no record %s", op.ID)}
	}
	return fmt.Errorf("unexpected operation kind %s", op.Kind)
}

func (m *memEnvironment) find(entity, field string, value interface{}) remote.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records[entity] {
		if rec[field] == value {
			return rec
		}
	}
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := store.NewWithDB(db)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

// drainQueue executes pending items until the queue is empty.
func drainQueue(t *testing.T, s *store.Store, target remote.Client, queueName string) {
	t.Helper()
	executor := &queue.Executor{Store: s, Target: target}
	for {
		item, err := s.NextPending(queueName)
		if err != nil {
			t.Fatalf("Failed to dequeue: %v", err)
		}
		if item == nil {
			return
		}
		if err := executor.ExecuteItem(context.Background(), item); err != nil {
			t.Fatalf("Failed to execute item %s: %v", item.ID, err)
		}
	}
}

func TestEndToEndDeclarativeMigration(t *testing.T) {
	s := newTestStore(t)

	cfg := &models.MigrationConfig{
		Name:      "crm-sync",
		SourceEnv: "dev",
		TargetEnv: "prod",
		Mappings: []models.EntityMapping{
			{
				SourceEntity: "account",
				TargetEntity: "account",
				Priority:     0,
				MatchOn:      []string{"name"},
				Permissions:  models.OperationPermissions{AllowCreate: true, AllowUpdate: true},
			},
			{
				SourceEntity: "contact",
				TargetEntity: "contact",
				Priority:     1,
				MatchOn:      []string{"email"},
				Permissions:  models.OperationPermissions{AllowCreate: true, AllowUpdate: true},
				Resolvers: []models.Resolver{{
					Name:         "account_ref",
					SourceEntity: "account",
					MatchFields:  []models.MatchField{{Source: "companyname", Target: "name"}},
					Fallback:     models.FallbackSkip,
				}},
				FieldMappings: []models.FieldMapping{
					{
						TargetField: "email",
						Transform:   models.TransformSpec{Type: models.TransformCopy, Source: "email"},
					},
					{
						TargetField: "accountid",
						Transform:   models.TransformSpec{Type: models.TransformLookup, Resolver: "account_ref"},
					},
				},
			},
		},
	}
	if err := s.SaveConfig(cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	source := newMemEnvironment()
	source.seed("account",
		remote.Record{"accountid": "s1", "name": "Acme", "city": "Oslo"},
		remote.Record{"accountid": "s2", "name": "Globex", "city": "Bergen"},
	)
	source.seed("contact",
		remote.Record{"contactid": "c1", "email": "jo@acme.example", "companyname": "Acme"},
		remote.Record{"contactid": "c2", "email": "kim@nowhere.example", "companyname": "Unknown Co"},
	)

	target := newMemEnvironment()
	target.seed("account",
		remote.Record{"accountid": "t1", "name": "Acme", "city": "Stavanger"},
	)
	target.seed("contact")

	pipeline := &engine.Pipeline{
		Configs:   s,
		Queue:     s,
		Source:    source,
		Target:    target,
		QueueName: "default",
		BatchSize: 10,
	}

	// Phase 1: migrate accounts, then re-run for contacts so the resolver
	// sees the created accounts.
	summary, err := pipeline.Run(context.Background(), "crm-sync")
	if err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}
	if summary.Items == 0 {
		t.Fatal("Expected queue items to be enqueued")
	}
	drainQueue(t, s, target, "default")

	// Account "Acme" existed with a different city: updated in place.
	acme := target.find("account", "name", "Acme")
	if acme == nil {
		t.Fatal("Acme account missing from target")
	}
	if acme["city"] != "Oslo" {
		t.Errorf("Expected Acme city Oslo, got %v", acme["city"])
	}
	if acme["accountid"] != "t1" {
		t.Errorf("Expected update to keep id t1, got %v", acme["accountid"])
	}

	// Account "Globex" was new: created.
	if target.find("account", "name", "Globex") == nil {
		t.Fatal("Globex account missing from target")
	}

	// Contact with a resolvable company got the looked-up account id.
	summary, err = pipeline.Run(context.Background(), "crm-sync")
	if err != nil {
		t.Fatalf("Second pipeline run failed: %v", err)
	}
	drainQueue(t, s, target, "default")

	jo := target.find("contact", "email", "jo@acme.example")
	if jo == nil {
		t.Fatal("Contact jo missing from target")
	}
	if jo["accountid"] != "t1" {
		t.Errorf("Expected resolved accountid t1, got %v", jo["accountid"])
	}

	// Contact with an unresolvable company was skipped, not created.
	if target.find("contact", "email", "kim@nowhere.example") != nil {
		t.Error("Contact with unresolvable company should have been skipped")
	}

	// All items terminal and successful.
	items, err := s.ListItems("default")
	if err != nil {
		t.Fatalf("Failed to list items: %v", err)
	}
	for _, item := range items {
		if item.Status != models.StatusSucceeded {
			t.Errorf("Item %s finished with status %s (%s)", item.ID, item.Status, item.LastError)
		}
	}
}

func TestEndToEndScriptedMigration(t *testing.T) {
	s := newTestStore(t)

	script := `
local M = {}

function M.declare()
  return {
    source = { account = {} },
    target = { account = {} },
  }
end

function M.transform(source, target)
  local byname = {}
  for _, rec in ipairs(target.account) do
    byname[lib.lower(rec.name)] = rec
  end

  local ops = {}
  for _, rec in ipairs(source.account) do
    local existing = byname[lib.lower(rec.name)]
    if existing == nil then
      ops[#ops + 1] = {
        entity = "account",
        operation = "create",
        fields = { name = rec.name, slug = lib.lower(rec.name) },
      }
    else
      ops[#ops + 1] = {
        entity = "account",
        operation = "skip",
        id = existing.accountid,
        reason = "already present",
      }
    end
  end
  return ops
end

return M
`
	cfg := &models.MigrationConfig{
		Name:      "scripted-sync",
		SourceEnv: "dev",
		TargetEnv: "prod",
		Mappings: []models.EntityMapping{{
			SourceEntity: "account",
			TargetEntity: "account",
			Permissions:  models.OperationPermissions{AllowCreate: true},
			Script:       script,
		}},
	}
	if err := s.SaveConfig(cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	source := newMemEnvironment()
	source.seed("account",
		remote.Record{"accountid": "s1", "name": "Acme"},
		remote.Record{"accountid": "s2", "name": "Globex"},
	)
	target := newMemEnvironment()
	target.seed("account", remote.Record{"accountid": "t1", "name": "ACME"})

	pipeline := &engine.Pipeline{
		Configs:   s,
		Queue:     s,
		Source:    source,
		Target:    target,
		QueueName: "default",
		BatchSize: 10,
	}

	summary, err := pipeline.Run(context.Background(), "scripted-sync")
	if err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}
	if summary.Counts[models.OpCreate] != 1 || summary.Counts[models.OpSkip] != 1 {
		t.Fatalf("Expected 1 create and 1 skip, got %v", summary.Counts)
	}

	drainQueue(t, s, target, "default")

	globex := target.find("account", "name", "Globex")
	if globex == nil {
		t.Fatal("Globex account missing from target")
	}
	if globex["slug"] != "globex" {
		t.Errorf("Expected slug globex, got %v", globex["slug"])
	}
	// the matched account was skipped, not duplicated
	count := 0
	for _, rec := range target.records["account"] {
		if rec["name"] == "ACME" || rec["name"] == "Acme" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one Acme record, got %d", count)
	}
}

func TestEndToEndRetryResumesPartialItem(t *testing.T) {
	s := newTestStore(t)

	item := &models.QueueItem{
		QueueName: "default",
		Priority:  1,
		Payload: []models.Operation{
			models.NewCreate("account", map[string]interface{}{"name": "One"}),
			models.NewUpdate("account", "missing", map[string]interface{}{"name": "Two"}),
			models.NewCreate("account", map[string]interface{}{"name": "Three"}),
		},
	}
	if err := s.Enqueue(item); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	target := newMemEnvironment()
	executor := &queue.Executor{Store: s, Target: target}

	running, err := s.NextPending("default")
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if err := executor.ExecuteItem(context.Background(), running); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if running.Status != models.StatusPartiallyFailed {
		t.Fatalf("Expected partially_failed, got %s", running.Status)
	}

	// make the update succeed and retry
	target.seed("account", remote.Record{"accountid": "missing", "name": "placeholder"})
	if err := s.RetryItem(item.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	running, err = s.NextPending("default")
	if err != nil {
		t.Fatalf("Failed to dequeue after retry: %v", err)
	}
	if err := executor.ExecuteItem(context.Background(), running); err != nil {
		t.Fatalf("Execute after retry failed: %v", err)
	}
	if running.Status != models.StatusSucceeded {
		t.Fatalf("Expected succeeded, got %s (%s)", running.Status, running.LastError)
	}

	// operation 0 ran exactly once across both attempts
	count := 0
	for _, rec := range target.records["account"] {
		if rec["name"] == "One" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected One created exactly once, got %d", count)
	}
}
