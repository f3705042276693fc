// Package storage opens the relational database that backs groups, roles and
// memberships, and applies schema migrations.
//
// Two drivers are supported: "postgres" (lib/pq) for deployments and
// "sqlite3" (mattn/go-sqlite3) for development and tests. Every package that
// owns tables exposes GetMigrations(); the og package collects them and calls
// RunMigrations, which records applied versions in og_migrations.
//
// Statements use $N placeholders, which both drivers accept.
//
// OpenRedis connects the optional Redis server that shares resolution
// snapshots between processes.
package storage
