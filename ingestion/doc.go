// Package ingestion turns a directory of transcripts into stored embeddings.
//
// The Pipeline loads every .txt file of a corpus, splits each transcript
// into overlapping chunks, embeds the chunks in batches and upserts the
// resulting records into a storage.RecordRepository:
//   - Files are read and chunked concurrently on a worker pool
//   - Each embedding batch is retried with exponential backoff
//   - A chunk that cannot be embedded is skipped and reported
//   - A batch that cannot be written is reported and ingestion continues
//   - An optional delay between batches keeps remote embedding APIs happy
//
// Only configuration errors, such as a vector dimension that does not match
// the store, abort a run. Everything else ends up in the Summary.
package ingestion
