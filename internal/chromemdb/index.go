package chromemdb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"

	"pdf-qa/internal/models"
)

// Index is a loaded, read-only chromem collection.
type Index struct {
	manifest   models.Manifest
	collection *chromem.Collection
}

func (ix *Index) Manifest() models.Manifest { return ix.manifest }

func (ix *Index) Count() int { return ix.collection.Count() }

// Query ranks every chunk and returns the best k. chromem only returns a
// partial top-n with no tie order, so the full ranking is redone here.
func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]models.Hit, error) {
	if len(vector) != ix.manifest.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", models.ErrIndexCorrupt, len(vector), ix.manifest.Dimension)
	}
	if k <= 0 {
		k = models.DefaultTopK
	}

	hits, err := ix.all(ctx, vector)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Seq < hits[j].Chunk.Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Head returns the first n chunks in sequence order.
func (ix *Index) Head(ctx context.Context, n int) ([]models.Chunk, error) {
	if n <= 0 {
		return nil, nil
	}
	probe := make([]float32, ix.manifest.Dimension)
	probe[0] = 1

	hits, err := ix.all(ctx, probe)
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Chunk.Seq < hits[j].Chunk.Seq })
	if len(hits) > n {
		hits = hits[:n]
	}
	chunks := make([]models.Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	return chunks, nil
}

func (ix *Index) all(ctx context.Context, vector []float32) ([]models.Hit, error) {
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	results, err := ix.collection.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		ch, err := resultChunk(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrIndexCorrupt, err)
		}
		score := r.Similarity
		// zero vectors normalize to NaN
		if math.IsNaN(float64(score)) {
			score = 0
		}
		hits = append(hits, models.Hit{Chunk: ch, Score: score})
	}
	return hits, nil
}

func resultChunk(r chromem.Result) (models.Chunk, error) {
	seq, err := strconv.Atoi(r.Metadata["seq"])
	if err != nil {
		return models.Chunk{}, fmt.Errorf("chunk %s: bad seq %q", r.ID, r.Metadata["seq"])
	}
	page, err := strconv.Atoi(r.Metadata["page"])
	if err != nil {
		return models.Chunk{}, fmt.Errorf("chunk %s: bad page %q", r.ID, r.Metadata["page"])
	}
	return models.Chunk{
		ID:     r.ID,
		Seq:    seq,
		Text:   r.Content,
		Page:   page,
		Source: r.Metadata["source"],
	}, nil
}
