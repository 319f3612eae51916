// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the storage abstraction layer for transcriptlens.
//
// This package defines the RecordRepository interface that decouples the
// vector store from the pipelines, together with the pieces every backend
// shares: metadata filters, similarity ranking, batch limits and the mus
// wire format for records.
//
// # Backend Construction
//
// Backend constructors return their concrete repository type, which callers
// hand to the pipelines as a storage.RecordRepository:
//
//	repo, err := badger.OpenRecordRepository(path)
//	repo, err := sqlite.Open(path)
//
// The pipelines never learn which backend is in use.
//
// # Backends
//
//   - storage/badger: BadgerDB key space, the default
//   - storage/sqlite: a single transcript_vectors table
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	repo, err := badger.NewMemoryRepository()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
// # Dimensionality
//
// The first successful write fixes the vector length of a store. Writes or
// searches with another length fail with core.ErrDimensionMismatch, which is
// a configuration error. Changing embedding models therefore requires a
// fresh store (see package reembed).
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
