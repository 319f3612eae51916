// Package reembed migrates a record store to a new embedding model.
//
// Vectors of different models cannot share a store, so records are read from
// the source store in write order, embedded again and written into a fresh
// target store. Record IDs, content and metadata carry over unchanged.
//
// The migration works in batches with retry and exponential backoff around
// the embedding calls, and vectors are normalized so the target stays
// compatible with cosine similarity search.
package reembed
