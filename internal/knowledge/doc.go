// Package knowledge owns the lifecycle of truth items: matching candidate
// embeddings against stored items, creating new items with their
// embedding, and merging reviewed knowledge PRs into new versions.
//
// Matching is a linear cosine scan behind the Matcher interface so an
// indexed implementation can replace it without changing callers.
package knowledge
