package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recmig/recmig/pkg/models"
)

// SaveConfig inserts or replaces a migration config with all its mappings.
// The write is transactional; an existing config with the same name is
// replaced wholesale.
func (s *Store) SaveConfig(cfg *models.MigrationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &models.PersistenceError{Op: "save config", Err: err}
	}
	defer tx.Rollback()

	if err := deleteConfigTx(tx, cfg.Name); err != nil && !errors.Is(err, models.ErrConfigNotFound) {
		return err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(
		`INSERT INTO migration_configs (id, name, source_env, target_env, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, cfg.SourceEnv, cfg.TargetEnv, now, now,
	)
	if err != nil {
		return &models.PersistenceError{Op: "save config", Err: err}
	}

	for i := range cfg.Mappings {
		if err := insertMappingTx(tx, cfg.ID, &cfg.Mappings[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.PersistenceError{Op: "save config", Err: err}
	}
	return nil
}

func insertMappingTx(tx *sql.Tx, configID string, m *models.EntityMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := tx.Exec(
		`INSERT INTO entity_mappings
		 (id, config_id, source_entity, target_entity, priority, match_on,
		  allow_creates, allow_updates, allow_deletes, allow_deactivates,
		  orphan_policy, script)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, configID, m.SourceEntity, m.TargetEntity, m.Priority,
		strings.Join(m.MatchOn, ","),
		boolInt(m.Permissions.AllowCreate), boolInt(m.Permissions.AllowUpdate),
		boolInt(m.Permissions.AllowDelete), boolInt(m.Permissions.AllowDeactivate),
		orDefault(string(m.Orphans), string(models.OrphanIgnore)), m.Script,
	)
	if err != nil {
		return &models.PersistenceError{Op: "save mapping", Err: err}
	}

	for i := range m.FieldMappings {
		fm := &m.FieldMappings[i]
		if fm.ID == "" {
			fm.ID = uuid.NewString()
		}
		transformJSON, err := json.Marshal(fm.Transform)
		if err != nil {
			return fmt.Errorf("encoding transform for %s: %w", fm.TargetField, err)
		}
		_, err = tx.Exec(
			`INSERT INTO field_mappings (id, mapping_id, target_field, transform_json)
			 VALUES (?, ?, ?, ?)`,
			fm.ID, m.ID, fm.TargetField, string(transformJSON),
		)
		if err != nil {
			return &models.PersistenceError{Op: "save field mapping", Err: err}
		}
	}

	for i := range m.Resolvers {
		r := &m.Resolvers[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		matchJSON, err := json.Marshal(r.MatchFields)
		if err != nil {
			return fmt.Errorf("encoding match fields for resolver %s: %w", r.Name, err)
		}
		_, err = tx.Exec(
			`INSERT INTO resolvers (id, mapping_id, name, source_entity, match_fields_json, fallback)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, m.ID, r.Name, r.SourceEntity, string(matchJSON),
			orDefault(string(r.Fallback), string(models.FallbackError)),
		)
		if err != nil {
			return &models.PersistenceError{Op: "save resolver", Err: err}
		}
	}

	for _, nm := range m.NegativeMatches {
		_, err := tx.Exec(
			`INSERT INTO negative_matches (mapping_id, source_entity, target_entity, source_field)
			 VALUES (?, ?, ?, ?)`,
			m.ID, nm.SourceEntity, nm.TargetEntity, nm.SourceField,
		)
		if err != nil {
			return &models.PersistenceError{Op: "save negative match", Err: err}
		}
	}
	return nil
}

// GetConfig loads a migration config by name with all its mappings.
func (s *Store) GetConfig(name string) (*models.MigrationConfig, error) {
	var cfg models.MigrationConfig
	err := s.db.QueryRow(
		`SELECT id, name, source_env, target_env FROM migration_configs WHERE name = ?`,
		name,
	).Scan(&cfg.ID, &cfg.Name, &cfg.SourceEnv, &cfg.TargetEnv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrConfigNotFound, name)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get config", Err: err}
	}

	mappings, err := s.loadMappings(cfg.ID)
	if err != nil {
		return nil, err
	}
	cfg.Mappings = mappings
	return &cfg, nil
}

// ListConfigs returns all config names in alphabetical order.
func (s *Store) ListConfigs() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM migration_configs ORDER BY name`)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list configs", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &models.PersistenceError{Op: "list configs", Err: err}
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteConfig removes a config and everything hanging off it.
func (s *Store) DeleteConfig(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &models.PersistenceError{Op: "delete config", Err: err}
	}
	defer tx.Rollback()

	if err := deleteConfigTx(tx, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &models.PersistenceError{Op: "delete config", Err: err}
	}
	return nil
}

func deleteConfigTx(tx *sql.Tx, name string) error {
	var id string
	err := tx.QueryRow(`SELECT id FROM migration_configs WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrConfigNotFound, name)
	}
	if err != nil {
		return &models.PersistenceError{Op: "delete config", Err: err}
	}

	rows, err := tx.Query(`SELECT id FROM entity_mappings WHERE config_id = ?`, id)
	if err != nil {
		return &models.PersistenceError{Op: "delete config", Err: err}
	}
	var mappingIDs []string
	for rows.Next() {
		var mid string
		if err := rows.Scan(&mid); err != nil {
			rows.Close()
			return &models.PersistenceError{Op: "delete config", Err: err}
		}
		mappingIDs = append(mappingIDs, mid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &models.PersistenceError{Op: "delete config", Err: err}
	}

	for _, mid := range mappingIDs {
		for _, stmt := range []string{
			`DELETE FROM field_mappings WHERE mapping_id = ?`,
			`DELETE FROM resolvers WHERE mapping_id = ?`,
			`DELETE FROM negative_matches WHERE mapping_id = ?`,
		} {
			if _, err := tx.Exec(stmt, mid); err != nil {
				return &models.PersistenceError{Op: "delete config", Err: err}
			}
		}
	}
	if _, err := tx.Exec(`DELETE FROM entity_mappings WHERE config_id = ?`, id); err != nil {
		return &models.PersistenceError{Op: "delete config", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM migration_configs WHERE id = ?`, id); err != nil {
		return &models.PersistenceError{Op: "delete config", Err: err}
	}
	return nil
}

func (s *Store) loadMappings(configID string) ([]models.EntityMapping, error) {
	rows, err := s.db.Query(
		`SELECT id, source_entity, target_entity, priority, match_on,
		        allow_creates, allow_updates, allow_deletes, allow_deactivates,
		        orphan_policy, script
		 FROM entity_mappings WHERE config_id = ? ORDER BY priority, id`,
		configID,
	)
	if err != nil {
		return nil, &models.PersistenceError{Op: "load mappings", Err: err}
	}
	defer rows.Close()

	var mappings []models.EntityMapping
	for rows.Next() {
		var (
			m               models.EntityMapping
			matchOn         string
			script          sql.NullString
			ac, au, ad, adc int
			orphans         string
		)
		err := rows.Scan(&m.ID, &m.SourceEntity, &m.TargetEntity, &m.Priority,
			&matchOn, &ac, &au, &ad, &adc, &orphans, &script)
		if err != nil {
			return nil, &models.PersistenceError{Op: "load mappings", Err: err}
		}
		if matchOn != "" {
			m.MatchOn = strings.Split(matchOn, ",")
		}
		m.Permissions = models.OperationPermissions{
			AllowCreate:     ac != 0,
			AllowUpdate:     au != 0,
			AllowDelete:     ad != 0,
			AllowDeactivate: adc != 0,
		}
		m.Orphans = models.OrphanPolicy(orphans)
		m.Script = script.String
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "load mappings", Err: err}
	}

	for i := range mappings {
		if err := s.loadMappingDetails(&mappings[i]); err != nil {
			return nil, err
		}
	}
	return mappings, nil
}

func (s *Store) loadMappingDetails(m *models.EntityMapping) error {
	rows, err := s.db.Query(
		`SELECT id, target_field, transform_json FROM field_mappings
		 WHERE mapping_id = ? ORDER BY target_field`,
		m.ID,
	)
	if err != nil {
		return &models.PersistenceError{Op: "load field mappings", Err: err}
	}
	for rows.Next() {
		var (
			fm  models.FieldMapping
			raw string
		)
		if err := rows.Scan(&fm.ID, &fm.TargetField, &raw); err != nil {
			rows.Close()
			return &models.PersistenceError{Op: "load field mappings", Err: err}
		}
		if err := json.Unmarshal([]byte(raw), &fm.Transform); err != nil {
			rows.Close()
			return fmt.Errorf("decoding transform for %s: %w", fm.TargetField, err)
		}
		m.FieldMappings = append(m.FieldMappings, fm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &models.PersistenceError{Op: "load field mappings", Err: err}
	}

	rows, err = s.db.Query(
		`SELECT id, name, source_entity, match_fields_json, fallback FROM resolvers
		 WHERE mapping_id = ? ORDER BY name`,
		m.ID,
	)
	if err != nil {
		return &models.PersistenceError{Op: "load resolvers", Err: err}
	}
	for rows.Next() {
		var (
			r        models.Resolver
			raw      string
			fallback string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.SourceEntity, &raw, &fallback); err != nil {
			rows.Close()
			return &models.PersistenceError{Op: "load resolvers", Err: err}
		}
		if err := json.Unmarshal([]byte(raw), &r.MatchFields); err != nil {
			rows.Close()
			return fmt.Errorf("decoding match fields for resolver %s: %w", r.Name, err)
		}
		fb, err := models.ParseResolverFallback(fallback)
		if err != nil {
			rows.Close()
			return err
		}
		r.Fallback = fb
		m.Resolvers = append(m.Resolvers, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &models.PersistenceError{Op: "load resolvers", Err: err}
	}

	rows, err = s.db.Query(
		`SELECT source_entity, target_entity, source_field FROM negative_matches
		 WHERE mapping_id = ?`,
		m.ID,
	)
	if err != nil {
		return &models.PersistenceError{Op: "load negative matches", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var nm models.NegativeMatch
		if err := rows.Scan(&nm.SourceEntity, &nm.TargetEntity, &nm.SourceField); err != nil {
			return &models.PersistenceError{Op: "load negative matches", Err: err}
		}
		m.NegativeMatches = append(m.NegativeMatches, nm)
	}
	return rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
