package roles

import "github.com/platinummonkey/og/pkg/storage"

// GetMigrations returns the role schema
func GetMigrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     201,
			Description: "Create og_role table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS og_role (
					rid VARCHAR(255) PRIMARY KEY,
					name VARCHAR(64) NOT NULL,
					label VARCHAR(255) NOT NULL DEFAULT '',
					group_type VARCHAR(64) NOT NULL,
					group_bundle VARCHAR(64) NOT NULL,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					role_type VARCHAR(16) NOT NULL DEFAULT 'standard',
					weight INT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (group_type, group_bundle, name)
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS og_role (
					rid TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					group_type TEXT NOT NULL,
					group_bundle TEXT NOT NULL,
					is_admin BOOLEAN NOT NULL DEFAULT 0,
					role_type TEXT NOT NULL DEFAULT 'standard',
					weight INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (group_type, group_bundle, name)
				);
			`,
		},
		{
			Version:     202,
			Description: "Create og_role_permission table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS og_role_permission (
					id BIGSERIAL PRIMARY KEY,
					rid VARCHAR(255) NOT NULL REFERENCES og_role(rid) ON DELETE CASCADE,
					permission VARCHAR(255) NOT NULL,
					module VARCHAR(64) NOT NULL DEFAULT 'og',
					UNIQUE (rid, permission)
				);
				CREATE INDEX IF NOT EXISTS idx_og_role_permission_permission ON og_role_permission (permission);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS og_role_permission (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rid TEXT NOT NULL REFERENCES og_role(rid) ON DELETE CASCADE,
					permission TEXT NOT NULL,
					module TEXT NOT NULL DEFAULT 'og',
					UNIQUE (rid, permission)
				);
				CREATE INDEX IF NOT EXISTS idx_og_role_permission_permission ON og_role_permission (permission);
			`,
		},
		{
			Version:     203,
			Description: "Create og_membership_role table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS og_membership_role (
					membership_id BIGINT NOT NULL,
					rid VARCHAR(255) NOT NULL,
					PRIMARY KEY (membership_id, rid)
				);
				CREATE INDEX IF NOT EXISTS idx_og_membership_role_rid ON og_membership_role (rid);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS og_membership_role (
					membership_id INTEGER NOT NULL,
					rid TEXT NOT NULL,
					PRIMARY KEY (membership_id, rid)
				);
				CREATE INDEX IF NOT EXISTS idx_og_membership_role_rid ON og_membership_role (rid);
			`,
		},
	}
}
