package query

import "github.com/poiesic/transcriptlens/core"

// Monitor provides hooks to observe an analysis.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(question string)
	AfterEmbedding(vector []float32)
	AfterRetrieval(records []*core.RetrievedRecord)
	AfterAttempt(attempt int, failure *DecodeFailure)
	Finish(result *core.AnalysisResult)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                           {}
func (n *noopMonitor) AfterEmbedding(_ []float32)               {}
func (n *noopMonitor) AfterRetrieval(_ []*core.RetrievedRecord) {}
func (n *noopMonitor) AfterAttempt(_ int, _ *DecodeFailure)     {}
func (n *noopMonitor) Finish(_ *core.AnalysisResult)            {}
