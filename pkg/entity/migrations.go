package entity

import "github.com/platinummonkey/og/pkg/storage"

// GetMigrations returns the entity storage schema
func GetMigrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     101,
			Description: "Create og_entity table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS og_entity (
					pk BIGSERIAL PRIMARY KEY,
					entity_type VARCHAR(64) NOT NULL,
					id BIGINT NOT NULL,
					bundle VARCHAR(64) NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					owner_id BIGINT NOT NULL DEFAULT 0,
					UNIQUE (entity_type, id)
				);
				CREATE INDEX IF NOT EXISTS idx_og_entity_bundle ON og_entity (entity_type, bundle);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS og_entity (
					pk INTEGER PRIMARY KEY AUTOINCREMENT,
					entity_type TEXT NOT NULL,
					id INTEGER NOT NULL,
					bundle TEXT NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					owner_id INTEGER NOT NULL DEFAULT 0,
					UNIQUE (entity_type, id)
				);
				CREATE INDEX IF NOT EXISTS idx_og_entity_bundle ON og_entity (entity_type, bundle);
			`,
		},
		{
			Version:     102,
			Description: "Create og_entity_reference table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS og_entity_reference (
					entity_type VARCHAR(64) NOT NULL,
					entity_id BIGINT NOT NULL,
					field_name VARCHAR(128) NOT NULL,
					delta INT NOT NULL,
					target_type VARCHAR(64) NOT NULL,
					target_id BIGINT NOT NULL,
					PRIMARY KEY (entity_type, entity_id, field_name, delta)
				);
				CREATE INDEX IF NOT EXISTS idx_og_entity_reference_target ON og_entity_reference (target_type, target_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS og_entity_reference (
					entity_type TEXT NOT NULL,
					entity_id INTEGER NOT NULL,
					field_name TEXT NOT NULL,
					delta INTEGER NOT NULL,
					target_type TEXT NOT NULL,
					target_id INTEGER NOT NULL,
					PRIMARY KEY (entity_type, entity_id, field_name, delta)
				);
				CREATE INDEX IF NOT EXISTS idx_og_entity_reference_target ON og_entity_reference (target_type, target_id);
			`,
		},
	}
}
