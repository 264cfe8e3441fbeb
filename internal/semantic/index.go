package semantic

import (
	"context"
	"errors"
	"fmt"
	"os"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// indexTracer for OpenTelemetry instrumentation.
var indexTracer = otel.Tracer("duri.semantic.index")

// Index errors.
var (
	ErrEmptyQuery     = errors.New("query cannot be empty")
	ErrEmptyDocuments = errors.New("empty or nil documents")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Document is a unit of indexed content.
type Document struct {
	// ID is the trace ID this document mirrors.
	ID string

	// Content is the text to embed.
	Content string

	// Metadata carries filterable attributes (kind, tags).
	Metadata map[string]string
}

// SearchResult is a single similarity hit.
type SearchResult struct {
	// ID is the matched document's ID.
	ID string `json:"id"`

	// Content is the matched document's text.
	Content string `json:"content"`

	// Score is cosine similarity in [0,1] for TF-IDF vectors
	// (components are non-negative).
	Score float64 `json:"score"`

	// Metadata carries the document's stored attributes.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IndexConfig holds configuration for the semantic index.
type IndexConfig struct {
	// Path is the chromem-go persistence directory.
	Path string

	// Collection is the collection name. Default: "duri_traces".
	Collection string

	// MinSimilarity filters results below this cosine score.
	MinSimilarity float64
}

// ApplyDefaults sets default values for unset fields.
func (c *IndexConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "duri_traces"
	}
}

// Validate validates the configuration.
func (c *IndexConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: min similarity must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Index is a persistent vector index over trace content.
//
// chromem-go provides the embedded storage: pure Go, no external
// service, persisted to gob files under the configured path.
type Index struct {
	db       *chromem.DB
	embedder *TFIDFEmbedder
	config   IndexConfig
	logger   *zap.Logger
}

// NewIndex creates a semantic index with the given embedder.
func NewIndex(config IndexConfig, embedder *TFIDFEmbedder, logger *zap.Logger) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating index directory %s: %w", config.Path, err)
	}

	db, err := chromem.NewPersistentDB(config.Path, false)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	idx := &Index{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("semantic index initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", embedder.Dimension()),
	)
	return idx, nil
}

// embeddingFunc adapts the TF-IDF embedder to chromem.
func (i *Index) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return i.embedder.Embed(ctx, text)
	}
}

func (i *Index) collection() (*chromem.Collection, error) {
	col, err := i.db.GetOrCreateCollection(i.config.Collection, nil, i.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", i.config.Collection, err)
	}
	return col, nil
}

// Add indexes documents. Corpus statistics are updated before the
// documents are embedded.
func (i *Index) Add(ctx context.Context, docs []Document) error {
	ctx, span := indexTracer.Start(ctx, "Index.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	col, err := i.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document without ID", ErrEmptyDocuments)
		}
		if err := i.embedder.Observe(ctx, doc.Content); err != nil {
			span.RecordError(err)
			return fmt.Errorf("observing document %s: %w", doc.ID, err)
		}
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for n, doc := range docs {
		embedding, err := i.embedder.Embed(ctx, doc.Content)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("embedding document %s: %w", doc.ID, err)
		}
		chromemDocs[n] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: embedding,
		}
	}

	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	i.logger.Debug("indexed documents", zap.Int("count", len(docs)))
	return nil
}

// Search returns up to k documents similar to the query, highest score
// first. Results below MinSimilarity are dropped.
func (i *Index) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return i.SearchWithFilters(ctx, query, k, nil)
}

// SearchWithFilters restricts results to documents whose metadata
// matches all filter values.
func (i *Index) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := indexTracer.Start(ctx, "Index.Search")
	defer span.End()

	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = 10
	}

	col, err := i.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chromem requires nResults <= document count.
	docCount := col.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := col.Query(ctx, query, k, filters, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < i.config.MinSimilarity {
			continue
		}
		searchResults = append(searchResults, SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    score,
			Metadata: r.Metadata,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	i.logger.Debug("semantic search",
		zap.Int("k", k),
		zap.Int("results", len(searchResults)),
	)
	return searchResults, nil
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (i *Index) Delete(ctx context.Context, ids []string) error {
	ctx, span := indexTracer.Start(ctx, "Index.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	col, err := i.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (int, error) {
	col, err := i.collection()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}
