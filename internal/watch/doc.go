// Package watch detects new upstream versions of tracked Nintendo Switch
// software and announces them to subscribed tenants.
//
// The package implements:
//   - Source adapters that query code hosts, JSON endpoints and web pages
//   - Weighted consensus across unreliable sources
//   - Time-windowed suppression of repeated announcements
//   - Per-category version files with rotated backups
//   - Tenant-isolated notification fan-out with a bounded history
//   - A paced, non-overlapping scan scheduler
//
// Built-in entities and their sources are read from a TOML catalog; tenants,
// their channels and the repositories they track live in a YAML file.
//
// Usage:
//
//	scanner := watch.NewScanner(entities, adapters, store, router)
//	summary := scanner.RunPass(ctx)
package watch
