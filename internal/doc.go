// Package internal documents the carbyr importer internals.
//
// The internal tree is organized by responsibility:
// - domain: listing model, regularization, scoring and upsert rules
// - ingest, threetaps, scraper: getting postings in and through the pipeline
// - sources: per-source YAML configuration
// - storage: Postgres repositories and migrations
// - jobs: River workers and periodic schedules
// - config, metrics, telemetry, health, email: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
