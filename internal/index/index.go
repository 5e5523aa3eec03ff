// Package index keeps a semantic index of package and file summaries in an
// embedded chromem-go database. Issue resolution uses it to rank candidates
// by similarity when the full listing does not fit the prompt budget.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
)

var tracer = otel.Tracer("seagent.index")

// ErrNoEmbedder is returned when an index is built without an embedder.
var ErrNoEmbedder = errors.New("index: embedder is required")

// Embedder produces vectors for text. langchaingo's embeddings.Embedder
// satisfies it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Kind selects the collection a document belongs to.
type Kind string

const (
	KindPackage Kind = "packages"
	KindFile    Kind = "files"
)

// Doc is one indexed summary. ID is the package name or file path.
type Doc struct {
	ID      string
	Content string
}

// Hit is one ranked result.
type Hit struct {
	ID         string
	Similarity float32
}

// Index ranks summaries by similarity to a query.
type Index struct {
	db       *chromem.DB
	embedder Embedder
	logger   *logging.Logger
}

// New opens the index. An empty cfg.Path keeps the index in memory.
func New(cfg config.IndexConfig, embedder Embedder, logger *logging.Logger) (*Index, error) {
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}
	return &Index{db: db, embedder: embedder, logger: logger.Named("index")}, nil
}

func (i *Index) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return i.embedder.EmbedQuery(ctx, text)
	}
}

// collectionName derives a stable collection name from a repository scope.
func collectionName(scope string, kind Kind) string {
	sum := sha256.Sum256([]byte(scope))
	return "seagent_" + hex.EncodeToString(sum[:8]) + "_" + string(kind)
}

// Upsert embeds docs and replaces any documents with the same IDs.
func (i *Index) Upsert(ctx context.Context, scope string, kind Kind, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Index.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(kind)), attribute.Int("document_count", len(docs)))

	coll, err := i.db.GetOrCreateCollection(collectionName(scope, kind), map[string]string{"scope": scope}, i.embeddingFunc())
	if err != nil {
		return fmt.Errorf("getting collection: %w", err)
	}

	texts := make([]string, len(docs))
	ids := make([]string, len(docs))
	for n, d := range docs {
		texts[n] = d.Content
		ids[n] = d.ID
	}
	vectors, err := i.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedding documents: got %d vectors for %d texts", len(vectors), len(docs))
	}

	// Delete first so a re-summarized entry never keeps its old vector.
	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting stale documents: %w", err)
	}
	chromemDocs := make([]chromem.Document, len(docs))
	for n, d := range docs {
		chromemDocs[n] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  map[string]string{"kind": string(kind)},
			Embedding: vectors[n],
		}
	}
	if err := coll.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		return fmt.Errorf("adding documents: %w", err)
	}

	i.logger.Debug(ctx, "index updated", zap.String("kind", string(kind)), zap.Int("count", len(docs)))
	return nil
}

// Remove deletes documents by ID. Missing collections are ignored.
func (i *Index) Remove(ctx context.Context, scope string, kind Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	coll := i.db.GetCollection(collectionName(scope, kind), i.embeddingFunc())
	if coll == nil {
		return nil
	}
	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// Rank returns up to k documents most similar to query, best first. An
// empty or missing collection yields no hits.
func (i *Index) Rank(ctx context.Context, scope string, kind Kind, query string, k int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Index.Rank")
	defer span.End()

	coll := i.db.GetCollection(collectionName(scope, kind), i.embeddingFunc())
	if coll == nil || k <= 0 {
		return nil, nil
	}
	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	k = min(k, count)

	results, err := coll.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying index: %w", err)
	}
	hits := make([]Hit, len(results))
	for n, r := range results {
		hits[n] = Hit{ID: r.ID, Similarity: r.Similarity}
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

// DropScope removes both collections of a repository.
func (i *Index) DropScope(scope string) error {
	var errs []error
	for _, kind := range []Kind{KindPackage, KindFile} {
		if i.db.GetCollection(collectionName(scope, kind), i.embeddingFunc()) == nil {
			continue
		}
		errs = append(errs, i.db.DeleteCollection(collectionName(scope, kind)))
	}
	return errors.Join(errs...)
}
