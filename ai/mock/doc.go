// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Generator,
// and ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	vector, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	mockEmbedder := mock.NewMockEmbedder()
//	mockEmbedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return []float32{0.1, 0.2, 0.3}, nil
//	}
//
//	// Scripted model output
//	mockGenerator := mock.NewMockGenerator("not json", `{"klachten":[]}`)
//
// # Default Behavior
//
//   - MockEmbedder: Hashes words into a normalized bag-of-words vector
//   - MockGenerator: Returns DefaultResponse, a single valid complaint
//   - MockProvider: Aggregates mock embedder and generator
package mock
