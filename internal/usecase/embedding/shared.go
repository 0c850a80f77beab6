package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/metrics"
)

// SharedEmbedder collapses concurrent identical Embed calls into one upstream request.
// Every semantic provider embeds the same query text during a fan-out.
type SharedEmbedder struct {
	inner domain.Embedder
	group singleflight.Group
}

// NewShared wraps inner with request coalescing.
func NewShared(inner domain.Embedder) *SharedEmbedder {
	return &SharedEmbedder{inner: inner}
}

// Embed returns the in-flight result for text if there is one. Coalesced results
// report zero tokens; the transport already counted the upstream request.
func (s *SharedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	ch := s.group.DoChan(text, func() (any, error) {
		// detached so one caller's cancellation does not fail the others
		return s.inner.Embed(context.WithoutCancel(ctx), text)
	})

	select {
	case <-ctx.Done():
		return domain.EmbeddingResult{}, fmt.Errorf("shared embed: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.EmbeddingResult{}, res.Err
		}
		out := res.Val.(domain.EmbeddingResult)
		if res.Shared {
			metrics.EmbeddingSharedTotal.Inc()
			out.PromptTokens, out.TotalTokens = 0, 0
		}
		out.Embedding = append([]float32(nil), out.Embedding...)
		return out, nil
	}
}
