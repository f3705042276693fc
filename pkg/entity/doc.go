// Package entity defines the entity, account and storage collaborators the
// group engine works against, plus a SQL implementation of Storage.
//
// SQLStorage keeps entities in og_entity and their reference field values in
// og_entity_reference. Queries are composed with Condition and References and
// executed through sqlx, which expands IN and NOT IN lists and rebinds
// placeholders for the configured driver.
//
//	ids, err := store.Query("node").
//		Condition("bundle", []string{"club", "team"}, entity.OpIn).
//		Condition("id", excluded, entity.OpNotIn).
//		Execute(ctx)
package entity
