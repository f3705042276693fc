// Package config provides application configuration.
//
// Process configuration is read from OG_* environment variables:
//
//	OG_HOST="0.0.0.0"
//	OG_PORT="8080"
//	OG_HEALTH_PORT="9090"
//	OG_DATABASE_DRIVER="postgres"   # postgres, sqlite3
//	OG_DATABASE_URL="postgres://localhost/og?sslmode=disable"
//	OG_REDIS_URL="redis://localhost:6379/0"
//	OG_SNAPSHOT_TTL="15m"
//	OG_ROLE_CACHE_SIZE="1024"
//	OG_LOG_LEVEL="info"             # debug, info, warn, error
//	OG_METRICS_ENABLED="true"
//	OG_OTEL_ENABLED="false"
//	OG_SETTINGS_PATH="og.settings.yaml"
//	OG_PURGE_SCHEDULE="@hourly"
//
// The og.settings object is a YAML file managed by SettingsStore:
//
//	group_manager_full_access: false
//	groups:
//	  node: [club, team]
//	fields:
//	  - name: og_group_ref
//	    entity_type: node
//	    bundle: post
//	    type: og_standard_reference
//	    cardinality: -1
//	    target_type: node
//	admin_routes:
//	  - name: members
//	    title: Members
//	    path: /group/{entity_type}/{id}/admin/members
//	    permission: manage members
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	settings := config.NewSettingsStore(cfg.Groups.SettingsPath, logger)
//	if err := settings.Load(); err != nil {
//		log.Fatal(err)
//	}
//	go settings.Watch(ctx)
package config
