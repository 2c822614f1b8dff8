package nuagent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Embedding pipeline defaults, tunable at runtime through app config.
const (
	ConfigEmbeddingBatchSize = "embedding_batch_size"
	ConfigEmbeddingRateMs    = "embedding_rate_limit_ms"

	defaultEmbeddingBatch  = 10
	defaultEmbeddingRateMs = 100
)

// EmbeddingGenerator indexes conversation and exchange summaries for
// similarity search. It polls for rows with a summary but no embedding,
// embeds them in batches, and upserts the vectors.
type EmbeddingGenerator struct {
	Store    Store
	Critical *CriticalSections
	Logger   *slog.Logger
	Embedder func() EmbeddingProvider
	Active   func() int64
}

func (g *EmbeddingGenerator) Name() string { return "embedding_generator" }

// pendingEmbedding is one summary row awaiting a vector.
type pendingEmbedding struct {
	kind    string
	source  string
	content string
}

func (g *EmbeddingGenerator) Run(ctx context.Context, p *Progress) error {
	logger := jobLogger(ctx, g.Store, g.Name(), g.Logger)

	batchSize, err := g.Store.ConfigInt(ctx, ConfigEmbeddingBatchSize, defaultEmbeddingBatch)
	if err != nil || batchSize <= 0 {
		batchSize = defaultEmbeddingBatch
	}
	rateMs, err := g.Store.ConfigInt(ctx, ConfigEmbeddingRateMs, defaultEmbeddingRateMs)
	if err != nil || rateMs < 0 {
		rateMs = defaultEmbeddingRateMs
	}

	pending, err := g.collect(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	logger.Debug("embedding backlog", "pending", len(pending), "batch_size", batchSize)

	for start := 0; start < len(pending); start += batchSize {
		if ctx.Err() != nil {
			return nil
		}
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]

		if start > 0 && rateMs > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(rateMs) * time.Millisecond):
			}
		}

		texts := make([]string, len(batch))
		for i, item := range batch {
			texts[i] = item.content
		}
		p.Item(fmt.Sprintf("embedding batch of %d", len(batch)))

		vectors, err := g.Embedder().Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("embedding batch failed", "count", len(batch), "error", err)
			p.Fail()
			continue
		}
		if len(vectors) != len(batch) {
			logger.Warn("embedding count mismatch", "want", len(batch), "got", len(vectors))
			p.Fail()
			continue
		}

		now := time.Now().Unix()
		byKind := map[string][]EmbeddingRecord{}
		for i, item := range batch {
			byKind[item.kind] = append(byKind[item.kind], EmbeddingRecord{
				Kind:      item.kind,
				Source:    item.source,
				Content:   item.content,
				Embedding: vectors[i],
				IndexedAt: now,
			})
		}
		stored := true
		g.Critical.Enter()
		for kind, records := range byKind {
			if err := g.Store.StoreEmbeddings(ctx, kind, records); err != nil {
				logger.Error("store embeddings failed", "kind", kind, "error", err)
				stored = false
				break
			}
		}
		g.Critical.Exit()
		if !stored {
			p.Fail()
			continue
		}
		p.Done(0)
	}
	return nil
}

// collect gathers every summary row still missing an embedding,
// excluding the active conversation.
func (g *EmbeddingGenerator) collect(ctx context.Context) ([]pendingEmbedding, error) {
	active := g.Active()
	var pending []pendingEmbedding

	convs, err := g.Store.ConversationsNeedingEmbeddings(ctx, active)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		pending = append(pending, pendingEmbedding{
			kind:    "conversation",
			source:  strconv.FormatInt(c.ID, 10),
			content: c.Summary,
		})
	}

	exchanges, err := g.Store.ExchangesNeedingEmbeddings(ctx, active)
	if err != nil {
		return nil, err
	}
	for _, ex := range exchanges {
		pending = append(pending, pendingEmbedding{
			kind:    "exchange",
			source:  strconv.FormatInt(ex.ID, 10),
			content: ex.Summary,
		})
	}
	return pending, nil
}
