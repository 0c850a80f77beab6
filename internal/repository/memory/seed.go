package memory

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/vecroute/internal/domain"
)

// seedFile is the YAML layout of a seed file.
type seedFile struct {
	Documents []seedDoc `yaml:"documents"`
}

type seedDoc struct {
	ID        string         `yaml:"id"`
	Content   string         `yaml:"content"`
	Metadata  map[string]any `yaml:"metadata"`
	Embedding []float32      `yaml:"embedding"`
	CreatedAt time.Time      `yaml:"created_at"`
	UpdatedAt time.Time      `yaml:"updated_at"`
}

// LoadSeed reads documents from a YAML file into the store. Documents without
// an embedding are vectorized with embed when it is non-nil; otherwise they
// only serve keyword search.
func LoadSeed(ctx context.Context, s *Store, path string, embed domain.Embedder, logger *zap.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	return loadSeed(ctx, s, data, embed, logger)
}

func loadSeed(ctx context.Context, s *Store, data []byte, embed domain.Embedder, logger *zap.Logger) (int, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse seed file: %w", err)
	}

	var missing []int
	for i, d := range f.Documents {
		if len(d.Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 && embed != nil {
		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = f.Documents[idx].Content
		}
		vecs, err := domain.EmbedAll(ctx, embed, texts)
		if err != nil {
			// keyword search still works without vectors
			logger.Warn("Failed to embed seed documents", zap.Int("documents", len(missing)), zap.Error(err))
		} else {
			for i, idx := range missing {
				f.Documents[idx].Embedding = vecs[i]
			}
		}
	}

	for _, d := range f.Documents {
		if err := s.Put(Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		}); err != nil {
			return 0, fmt.Errorf("seed document %q: %w", d.ID, err)
		}
	}
	logger.Info("Seeded in-memory provider",
		zap.String("provider", s.Name()),
		zap.Int("documents", len(f.Documents)),
	)
	return len(f.Documents), nil
}
