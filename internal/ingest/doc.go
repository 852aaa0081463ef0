// Package ingest defines the domain types and collaborator interfaces shared
// by the ingestion pipeline: runs, postings, queue instructions, and the
// stores, queues, and fetchers the coordinator and workers depend on.
package ingest
