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


// Package query answers questions about the transcript corpus.
//
// The Pipeline embeds a question, retrieves the most similar transcript
// chunks from the vector store and asks a language model to summarize the
// recurring complaints found in them. The model must answer with a JSON
// object of the form
//
//	{"klachten": [{"naam": "...", "frequentie": 3, "samenvatting": "..."}]}
//
// Output that does not match is repaired where possible (code fences,
// surrounding prose, trailing commas, unquoted keys). When it still cannot be
// decoded the model is asked again with the decoding error, up to the
// configured number of attempts.
//
// Retrieval that finds nothing never reaches the model: an empty analysis is
// returned instead, because there is nothing to ground an answer in.
package query
