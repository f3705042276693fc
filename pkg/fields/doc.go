// Package fields holds field metadata for entity bundles.
//
// Audience fields (types og_membership_reference and og_standard_reference)
// connect content and users to groups. The Registry is persisted through a
// Store, normally the og.settings YAML object, and new audience fields are
// built from the named Plugins.
package fields
