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


package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/poiesic/transcriptlens/core"
)

type analyzeRequest struct {
	Question string `json:"question"`
}

type analysis struct {
	Complaints []core.Complaint `json:"klachten"`
}

type analyzeResponse struct {
	Question string   `json:"question"`
	Analysis analysis `json:"analysis"`
	Snippets []string `json:"used_sources_snippets"`
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, ErrInvalidBody)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	pipeline, err := s.pipelineContext(ctx)
	if err != nil {
		s.logger.Error("failed to initialize services", "err", err)
		s.respondError(w, err)
		return
	}

	result, err := pipeline.Analyze(ctx, req.Question)
	if err != nil {
		s.logger.Error("analysis failed", "kind", core.KindOf(err), "err", err)
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, analyzeResponse{
		Question: result.Question,
		Analysis: analysis{Complaints: result.Complaints},
		Snippets: TruncateSnippets(result.SourceSnippets, s.snippetLength),
	})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"loaded": map[string]bool{
			"embedder":  s.embedder.Loaded(),
			"store":     s.store.Loaded(),
			"generator": s.generator.Loaded(),
		},
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "err", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondJSON(w, statusFor(err), errorResponse{
		Error: err.Error(),
		Type:  core.KindOf(err),
	})
}

// statusFor maps an error to the HTTP status reported to clients.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindEmbedding, core.KindGeneration:
		return http.StatusBadGateway
	case core.KindRetrieval:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TruncateSnippets shortens every snippet to n characters followed by an
// ellipsis. Zero leaves snippets untouched.
func TruncateSnippets(snippets []string, n int) []string {
	out := make([]string, len(snippets))
	for i, snippet := range snippets {
		if n == 0 {
			out[i] = snippet
			continue
		}
		runes := []rune(snippet)
		if len(runes) > n {
			runes = runes[:n]
		}
		out[i] = string(runes) + "..."
	}
	return out
}
