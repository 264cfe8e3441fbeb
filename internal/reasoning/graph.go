// Package reasoning implements duri's weighted concept graph.
//
// Concepts are nodes; relations are directed weighted edges. Edge weight
// in (0,1] expresses how reliable the connection is. Path search (A*)
// minimizes accumulated unreliability plus node activation cost, and a
// validator checks proposed paths edge-by-edge against the stored graph.
//
// The graph is held in memory for search and written through to SQLite
// so it survives restarts.
package reasoning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Graph errors.
var (
	ErrNodeNotFound    = errors.New("concept not found")
	ErrNodeExists      = errors.New("concept already exists")
	ErrNoPath          = errors.New("no path between concepts")
	ErrEmptyPath       = errors.New("path must contain at least two concepts")
	ErrInvalidConcept  = errors.New("invalid concept")
	ErrInvalidRelation = errors.New("invalid relation")
)

// Concept is a node in the reasoning graph.
type Concept struct {
	// ID is the unique concept identifier (caller-chosen slug).
	ID string `json:"id"`

	// Label is the human-readable name.
	Label string `json:"label"`

	// ActivationCost is added to path cost when the concept is entered.
	// Must be >= 0.
	ActivationCost float64 `json:"activation_cost"`

	// CreatedAt is when the concept was added.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks concept invariants.
func (c *Concept) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: ID cannot be empty", ErrInvalidConcept)
	}
	if c.Label == "" {
		return fmt.Errorf("%w: label cannot be empty", ErrInvalidConcept)
	}
	if c.ActivationCost < 0 {
		return fmt.Errorf("%w: activation cost cannot be negative", ErrInvalidConcept)
	}
	return nil
}

// Relation is a directed weighted edge between concepts.
type Relation struct {
	// From is the source concept ID.
	From string `json:"from"`

	// To is the target concept ID.
	To string `json:"to"`

	// Label names the relation ("causes", "requires", "contradicts").
	Label string `json:"label"`

	// Weight in (0,1] expresses reliability. Path search treats
	// 1-weight as traversal cost.
	Weight float64 `json:"weight"`

	// CreatedAt is when the relation was added.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks relation invariants.
func (r *Relation) Validate() error {
	if r.From == "" || r.To == "" {
		return fmt.Errorf("%w: endpoints cannot be empty", ErrInvalidRelation)
	}
	if r.From == r.To {
		return fmt.Errorf("%w: self-loops are not allowed", ErrInvalidRelation)
	}
	if r.Label == "" {
		return fmt.Errorf("%w: label cannot be empty", ErrInvalidRelation)
	}
	if r.Weight <= 0 || r.Weight > 1 {
		return fmt.Errorf("%w: weight must be in (0,1], got %f", ErrInvalidRelation, r.Weight)
	}
	return nil
}

// Graph is the persistent concept graph.
type Graph struct {
	db     *sql.DB
	logger *zap.Logger

	mu       sync.RWMutex
	concepts map[string]*Concept
	// edges maps from-ID to target-ID to relation.
	edges map[string]map[string]*Relation
	// landmark holds precomputed ALT heuristic data, nil when unset.
	landmark *landmark
}

// NewGraph creates a graph backed by the given database, loading all
// persisted concepts and relations into memory.
func NewGraph(db *sql.DB, logger *zap.Logger) (*Graph, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Graph{
		db:       db,
		logger:   logger,
		concepts: make(map[string]*Concept),
		edges:    make(map[string]map[string]*Relation),
	}
	if err := g.load(); err != nil {
		return nil, err
	}

	logger.Info("reasoning graph loaded",
		zap.Int("concepts", len(g.concepts)),
		zap.Int("relations", g.relationCountLocked()),
	)
	return g, nil
}

func (g *Graph) load() error {
	rows, err := g.db.Query(`SELECT id, label, activation_cost, created_at FROM concepts`)
	if err != nil {
		return fmt.Errorf("load concepts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Concept
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Label, &c.ActivationCost, &createdAt); err != nil {
			return fmt.Errorf("scan concept: %w", err)
		}
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		g.concepts[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return err
	}

	edgeRows, err := g.db.Query(`SELECT from_id, to_id, label, weight, created_at FROM relations`)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var r Relation
		var createdAt int64
		if err := edgeRows.Scan(&r.From, &r.To, &r.Label, &r.Weight, &createdAt); err != nil {
			return fmt.Errorf("scan relation: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		if g.edges[r.From] == nil {
			g.edges[r.From] = make(map[string]*Relation)
		}
		g.edges[r.From][r.To] = &r
	}
	return edgeRows.Err()
}

func (g *Graph) relationCountLocked() int {
	n := 0
	for _, targets := range g.edges {
		n += len(targets)
	}
	return n
}

// AddConcept validates and persists a new concept.
func (g *Graph) AddConcept(ctx context.Context, c *Concept) error {
	if c == nil {
		return fmt.Errorf("%w: nil concept", ErrInvalidConcept)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := c.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.concepts[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrNodeExists, c.ID)
	}

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO concepts (id, label, activation_cost, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Label, c.ActivationCost, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert concept: %w", err)
	}

	stored := *c
	g.concepts[c.ID] = &stored
	g.landmark = nil // heuristic data is stale
	return nil
}

// AddRelation validates and persists a relation. Both endpoints must
// already exist. An existing relation between the endpoints is replaced.
func (g *Graph) AddRelation(ctx context.Context, r *Relation) error {
	if r == nil {
		return fmt.Errorf("%w: nil relation", ErrInvalidRelation)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := r.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.concepts[r.From]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, r.From)
	}
	if _, ok := g.concepts[r.To]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, r.To)
	}

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO relations (from_id, to_id, label, weight, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id) DO UPDATE SET label = excluded.label, weight = excluded.weight`,
		r.From, r.To, r.Label, r.Weight, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert relation: %w", err)
	}

	if g.edges[r.From] == nil {
		g.edges[r.From] = make(map[string]*Relation)
	}
	stored := *r
	g.edges[r.From][r.To] = &stored
	g.landmark = nil
	return nil
}

// GetConcept returns a concept by ID.
func (g *Graph) GetConcept(id string) (*Concept, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.concepts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	copied := *c
	return &copied, nil
}

// Relation returns the relation between two concepts, if any.
func (g *Graph) Relation(from, to string) (*Relation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.edges[from][to]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

// Neighbors returns outgoing relations of a concept.
func (g *Graph) Neighbors(id string) ([]*Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.concepts[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	out := make([]*Relation, 0, len(g.edges[id]))
	for _, r := range g.edges[id] {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

// RemoveConcept deletes a concept and all relations touching it.
func (g *Graph) RemoveConcept(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.concepts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	// ON DELETE CASCADE removes relations rows.
	if _, err := g.db.ExecContext(ctx, `DELETE FROM concepts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete concept: %w", err)
	}

	delete(g.concepts, id)
	delete(g.edges, id)
	for _, targets := range g.edges {
		delete(targets, id)
	}
	g.landmark = nil
	return nil
}

// Stats returns node and edge counts.
func (g *Graph) Stats() (concepts, relations int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.concepts), g.relationCountLocked()
}

// edgeCost is the traversal cost of a relation plus entering its target.
func (g *Graph) edgeCostLocked(r *Relation) float64 {
	cost := 1 - r.Weight
	if target, ok := g.concepts[r.To]; ok {
		cost += target.ActivationCost
	}
	return cost
}
