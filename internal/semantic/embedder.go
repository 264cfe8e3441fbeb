// Package semantic provides similarity search over traces.
//
// Text is embedded with a deterministic hashed TF-IDF scheme: no model
// download, no network, and the same text always produces the same
// vector for a given corpus state. Vectors are stored and searched in
// an embedded chromem-go collection using cosine similarity.
package semantic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// Embedder errors.
var (
	ErrEmptyText = errors.New("text cannot be empty")
)

// stopwords are excluded from the term space. Short, high-frequency
// function words carry no similarity signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true,
	"with": true, "will": true, "not": true, "no": true,
}

// TFIDFEmbedder produces hashed TF-IDF vectors.
//
// Document frequencies are held in memory and written through to the
// doc_freq/corpus_stats tables so IDF survives restarts. Terms are
// hashed (FNV-1a) into a fixed-dimension bucket space; collisions trade
// a little precision for a bounded, vocabulary-free vector size.
//
// Online indexing caveat: adding documents shifts IDF, so vectors
// embedded earlier drift slightly relative to the current corpus. The
// consolidation pass re-embeds traces it touches, which keeps long-lived
// entries from drifting too far.
type TFIDFEmbedder struct {
	db  *sql.DB
	dim int

	mu       sync.RWMutex
	docCount int
	docFreq  map[int]int // bucket -> number of documents containing it
}

// NewTFIDFEmbedder creates an embedder with the given dimension, loading
// persisted corpus statistics from the database.
func NewTFIDFEmbedder(db *sql.DB, dim int) (*TFIDFEmbedder, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if dim < 16 {
		return nil, fmt.Errorf("dimension must be >= 16, got %d", dim)
	}

	e := &TFIDFEmbedder{
		db:      db,
		dim:     dim,
		docFreq: make(map[int]int),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

// load restores corpus statistics from storage.
func (e *TFIDFEmbedder) load() error {
	row := e.db.QueryRow(`SELECT value FROM corpus_stats WHERE key = 'doc_count'`)
	if err := row.Scan(&e.docCount); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load doc count: %w", err)
	}

	rows, err := e.db.Query(`SELECT term_bucket, count FROM doc_freq`)
	if err != nil {
		return fmt.Errorf("load doc frequencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bucket, count int
		if err := rows.Scan(&bucket, &count); err != nil {
			return fmt.Errorf("scan doc frequency: %w", err)
		}
		e.docFreq[bucket] = count
	}
	return rows.Err()
}

// Dimension returns the vector dimension.
func (e *TFIDFEmbedder) Dimension() int {
	return e.dim
}

// DocCount returns the number of observed documents.
func (e *TFIDFEmbedder) DocCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.docCount
}

// tokenize lowercases and splits text into index terms.
func (e *TFIDFEmbedder) tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() < 2 {
			b.Reset()
			return
		}
		tok := b.String()
		b.Reset()
		if !stopwords[tok] {
			tokens = append(tokens, tok)
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// bucket hashes a term into the vector space.
func (e *TFIDFEmbedder) bucket(term string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum64() % uint64(e.dim))
}

// Observe updates the corpus statistics with a new document. Call once
// per indexed document, before embedding it.
func (e *TFIDFEmbedder) Observe(ctx context.Context, text string) error {
	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		return ErrEmptyText
	}

	seen := make(map[int]bool)
	for _, tok := range tokens {
		seen[e.bucket(tok)] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observe: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for bucket := range seen {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO doc_freq (term_bucket, count) VALUES (?, 1)
			ON CONFLICT(term_bucket) DO UPDATE SET count = count + 1`, bucket); err != nil {
			return fmt.Errorf("update doc frequency: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO corpus_stats (key, value) VALUES ('doc_count', 1)
		ON CONFLICT(key) DO UPDATE SET value = value + 1`); err != nil {
		return fmt.Errorf("update doc count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit observe: %w", err)
	}

	e.docCount++
	for bucket := range seen {
		e.docFreq[bucket]++
	}
	return nil
}

// Embed produces an L2-normalized TF-IDF vector for the text.
//
// Term weight is (1 + log tf) * idf with smoothed IDF
// log((1+N)/(1+df)) + 1, so unseen terms still contribute.
func (e *TFIDFEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	tf := make(map[int]int)
	for _, tok := range tokens {
		tf[e.bucket(tok)]++
	}

	e.mu.RLock()
	n := e.docCount
	vec := make([]float32, e.dim)
	var norm float64
	for bucket, count := range tf {
		idf := math.Log(float64(1+n)/float64(1+e.docFreq[bucket])) + 1
		w := (1 + math.Log(float64(count))) * idf
		vec[bucket] = float32(w)
		norm += w * w
	}
	e.mu.RUnlock()

	norm = math.Sqrt(norm)
	if norm > 0 {
		inv := float32(1 / norm)
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
