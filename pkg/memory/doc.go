// Package memory implements a tiered semantic memory engine.
//
// Notes enter a bounded short-term working set; evictions promote them
// into durable long-term storage backed by sqlite with a vec0 vector
// index and an FTS5 keyword index. Recall searches both tiers by cosine
// similarity, optionally restricted by a metadata filter, and degrades
// to keyword search when the embedding provider is unavailable. Circuit
// breakers guard the embedder and the storage layer independently.
package memory
