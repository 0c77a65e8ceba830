package store

import (
	"context"
	"fmt"
	"strings"

	"entity-api/internal/metadata"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateAll creates or alters every entity table, then the join tables of many_to_many relations.
func (m *Migrator) MigrateAll(ctx context.Context, reg *metadata.Registry) error {
	for _, e := range reg.AllEntities() {
		if err := m.Migrate(ctx, e); err != nil {
			return err
		}
	}
	for _, rel := range reg.AllRelations() {
		if !rel.IsManyToMany() {
			continue
		}
		if err := m.MigrateJoinTable(ctx, rel, reg.GetEntity(rel.Source), reg.GetEntity(rel.Target)); err != nil {
			return err
		}
	}
	return nil
}

// Migrate ensures the table matches the entity metadata.
// Creates the table if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, entity *metadata.Entity) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		return m.createTable(ctx, entity)
	}

	return m.alterTable(ctx, entity)
}

// MigrateJoinTable creates a join table for a many-to-many relation if it doesn't exist.
func (m *Migrator) MigrateJoinTable(ctx context.Context, rel *metadata.Relation, sourceEntity, targetEntity *metadata.Entity) error {
	if sourceEntity == nil || targetEntity == nil {
		return fmt.Errorf("cannot resolve entities for join table %s", rel.JoinTable)
	}
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, rel.JoinTable)
	if err != nil {
		return fmt.Errorf("check join table exists: %w", err)
	}
	if exists {
		return nil
	}

	sourceField := sourceEntity.PrimaryKeyField()
	targetField := targetEntity.PrimaryKeyField()
	if sourceField == nil || targetField == nil {
		return fmt.Errorf("cannot resolve key types for join table %s", rel.JoinTable)
	}

	d := m.store.Dialect
	cols := []string{
		fmt.Sprintf("%s %s NOT NULL REFERENCES %s(%s) ON DELETE CASCADE",
			rel.SourceJoinKey, m.keyColumnType(sourceEntity), sourceEntity.Table, sourceEntity.PrimaryKey.Field),
		fmt.Sprintf("%s %s NOT NULL REFERENCES %s(%s) ON DELETE CASCADE",
			rel.TargetJoinKey, m.keyColumnType(targetEntity), targetEntity.Table, targetEntity.PrimaryKey.Field),
	}
	hasOrder := false
	for _, p := range rel.Pivot {
		cols = append(cols, p.Name+" "+d.ColumnType(p.Type, p.Precision))
		hasOrder = hasOrder || p.Name == rel.PivotOrder
	}
	if rel.PivotOrder != "" && !hasOrder {
		cols = append(cols, rel.PivotOrder+" "+d.ColumnType("int", 0))
	}
	cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s, %s)", rel.SourceJoinKey, rel.TargetJoinKey))

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", rel.JoinTable, strings.Join(cols, ",\n  "))
	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create join table %s: %w", rel.JoinTable, err)
	}
	return nil
}

func (m *Migrator) createTable(ctx context.Context, entity *metadata.Entity) error {
	var cols []string
	for i := range entity.Fields {
		cols = append(cols, m.buildColumnDef(entity, &entity.Fields[i]))
	}

	if entity.SoftDelete && entity.GetField("deleted_at") == nil {
		cols = append(cols, "deleted_at "+m.store.Dialect.ColumnType("timestamp", 0))
	}

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", entity.Table, strings.Join(cols, ",\n  "))

	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}

	if err := m.createIndexes(ctx, entity); err != nil {
		return fmt.Errorf("create indexes for %s: %w", entity.Table, err)
	}

	return nil
}

func (m *Migrator) alterTable(ctx context.Context, entity *metadata.Entity) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", entity.Table, err)
	}

	for _, f := range entity.Fields {
		if _, ok := existing[f.Name]; ok {
			continue
		}
		// Added columns stay nullable: existing rows have no value for them.
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", entity.Table, f.Name, m.store.Dialect.ColumnType(f.Type, f.Precision))
		if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Name, err)
		}
	}

	if entity.SoftDelete {
		if _, ok := existing["deleted_at"]; !ok {
			sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN deleted_at %s", entity.Table, m.store.Dialect.ColumnType("timestamp", 0))
			if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
				return fmt.Errorf("add deleted_at column to %s: %w", entity.Table, err)
			}
		}
	}

	if err := m.createIndexes(ctx, entity); err != nil {
		return fmt.Errorf("create indexes for %s: %w", entity.Table, err)
	}

	return nil
}

func (m *Migrator) keyColumnType(entity *metadata.Entity) string {
	pk := entity.PrimaryKeyField()
	if entity.PrimaryKey.Generated && isIntegerType(entity.PrimaryKey.Type) {
		return m.store.Dialect.ColumnType("bigint", 0)
	}
	return m.store.Dialect.ColumnType(pk.Type, pk.Precision)
}

func (m *Migrator) buildColumnDef(entity *metadata.Entity, f *metadata.Field) string {
	d := m.store.Dialect

	if f.Name == entity.PrimaryKey.Field {
		if entity.PrimaryKey.Generated && isIntegerType(entity.PrimaryKey.Type) {
			return f.Name + " " + d.GeneratedKeyType() + " PRIMARY KEY"
		}
		col := f.Name + " " + d.ColumnType(entity.PrimaryKey.Type, 0) + " PRIMARY KEY"
		if entity.PrimaryKey.Generated && entity.PrimaryKey.Type == "uuid" && d.UUIDDefault() != "" {
			col += " " + d.UUIDDefault()
		}
		return col
	}

	col := f.Name + " " + d.ColumnType(f.Type, f.Precision)
	if f.Required && !f.Nullable {
		col += " NOT NULL"
	}

	if f.Default != nil {
		switch v := f.Default.(type) {
		case string:
			col += fmt.Sprintf(" DEFAULT '%s'", strings.ReplaceAll(v, "'", "''"))
		case bool:
			if d.NeedsBoolFix() {
				col += fmt.Sprintf(" DEFAULT %d", boolToInt(v))
			} else {
				col += fmt.Sprintf(" DEFAULT %t", v)
			}
		case int, int64, float64:
			col += fmt.Sprintf(" DEFAULT %v", v)
		default:
			col += fmt.Sprintf(" DEFAULT '%v'", v)
		}
	}

	return col
}

func (m *Migrator) createIndexes(ctx context.Context, entity *metadata.Entity) error {
	for _, f := range entity.Fields {
		if !f.Unique || f.Name == entity.PrimaryKey.Field {
			continue
		}
		sql := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
			entity.Table, f.Name, entity.Table, f.Name)
		if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("create unique index on %s.%s: %w", entity.Table, f.Name, err)
		}
	}

	if entity.SoftDelete {
		if _, err := m.store.DB.ExecContext(ctx, m.store.Dialect.SoftDeleteIndexSQL(entity.Table)); err != nil {
			return fmt.Errorf("create soft delete index on %s: %w", entity.Table, err)
		}
	}

	return nil
}

func isIntegerType(t string) bool {
	return t == "int" || t == "integer" || t == "bigint"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
