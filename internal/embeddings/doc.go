// Package embeddings provides cache-or-call embedding generation with
// metrics instrumentation.
package embeddings
