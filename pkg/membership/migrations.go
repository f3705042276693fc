package membership

import "github.com/platinummonkey/og/pkg/storage"

// GetMigrations returns the membership schema. Role assignments live in
// og_membership_role, created by the roles package.
func GetMigrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     301,
			Description: "Create og_membership table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS og_membership (
					id BIGSERIAL PRIMARY KEY,
					uid BIGINT NOT NULL,
					entity_type VARCHAR(64) NOT NULL,
					entity_bundle VARCHAR(64) NOT NULL,
					etid BIGINT NOT NULL,
					state VARCHAR(16) NOT NULL DEFAULT 'active',
					type VARCHAR(64) NOT NULL DEFAULT 'og_membership_type_default',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_og_membership_uid ON og_membership (uid, state);
				CREATE INDEX IF NOT EXISTS idx_og_membership_group ON og_membership (entity_type, etid, state);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS og_membership (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					uid INTEGER NOT NULL,
					entity_type TEXT NOT NULL,
					entity_bundle TEXT NOT NULL,
					etid INTEGER NOT NULL,
					state TEXT NOT NULL DEFAULT 'active',
					type TEXT NOT NULL DEFAULT 'og_membership_type_default',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_og_membership_uid ON og_membership (uid, state);
				CREATE INDEX IF NOT EXISTS idx_og_membership_group ON og_membership (entity_type, etid, state);
			`,
		},
	}
}
