// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/westodyssey/westodyssey/pkg/core"
)

// VectorStore defines the interface for a vector database.
type VectorStore interface {
	// Upsert adds or updates points in the vector store.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search searches for the nearest vectors to the given vector.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	// CreateCollection creates a new collection.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	// CollectionExists reports whether the collection is present.
	CollectionExists(ctx context.Context, name string) (bool, error)
}

// Point represents a data point in the vector store.
type Point struct {
	ID        string                 `json:"id"`
	Vector    []float32              `json:"vector"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp int64                  `json:"timestamp"`
}

// SearchResult represents a result from a vector search.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder defines the interface for converting text to vectors.
type Embedder interface {
	// Embed converts a text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Recollection is an archived entry returned by semantic recall.
type Recollection struct {
	Text    string
	Session string
	Kind    Kind
	Author  core.Role
	Round   int
	Score   float32
}

// VectorMemory archives entry contents as embeddings and recalls the
// closest ones for a query, across sessions.
type VectorMemory struct {
	store      VectorStore
	embedder   Embedder
	collection string
	threshold  float32

	initOnce sync.Once
	initErr  error
}

// VectorOption configures a VectorMemory.
type VectorOption func(*VectorMemory)

// WithScoreThreshold drops matches scoring below min.
func WithScoreThreshold(min float32) VectorOption {
	return func(vm *VectorMemory) {
		vm.threshold = min
	}
}

// NewVectorMemory creates a VectorMemory over store and embedder.
func NewVectorMemory(store VectorStore, embedder Embedder, collection string, opts ...VectorOption) *VectorMemory {
	vm := &VectorMemory{
		store:      store,
		embedder:   embedder,
		collection: collection,
		threshold:  0.5,
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Initialize ensures the collection exists, sized from a sample embedding.
// It runs once; later calls return the first result.
func (vm *VectorMemory) Initialize(ctx context.Context) error {
	vm.initOnce.Do(func() {
		vm.initErr = vm.initialize(ctx)
	})
	return vm.initErr
}

func (vm *VectorMemory) initialize(ctx context.Context) error {
	exists, err := vm.store.CollectionExists(ctx, vm.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", vm.collection, err)
	}
	if exists {
		return nil
	}
	vec, err := vm.embedder.Embed(ctx, "dimension sample")
	if err != nil {
		return fmt.Errorf("failed to get embedding dimension: %w", err)
	}
	return vm.store.CreateCollection(ctx, vm.collection, uint64(len(vec)))
}

// Archive embeds and stores the entry content.
func (vm *VectorMemory) Archive(ctx context.Context, e Entry) error {
	if err := vm.Initialize(ctx); err != nil {
		return err
	}
	vector, err := vm.embedder.Embed(ctx, e.Content)
	if err != nil {
		return fmt.Errorf("failed to embed entry %s: %w", e.ID, err)
	}
	id := e.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(e.Session+"/"+strconv.Itoa(e.Seq))).String()
	}
	point := Point{
		ID:     id,
		Vector: vector,
		Payload: map[string]interface{}{
			"text":    e.Content,
			"session": e.Session,
			"kind":    string(e.Kind),
			"author":  string(e.Author),
			"round":   int64(e.Round),
			"seq":     int64(e.Seq),
		},
		Timestamp: e.CreatedAt.Unix(),
	}
	if err := vm.store.Upsert(ctx, vm.collection, []Point{point}); err != nil {
		return fmt.Errorf("failed to store point: %w", err)
	}
	return nil
}

// Recall returns up to limit archived contents similar to query.
func (vm *VectorMemory) Recall(ctx context.Context, query string, limit int) ([]Recollection, error) {
	if err := vm.Initialize(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	vector, err := vm.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := vm.store.Search(ctx, vm.collection, vector, limit, vm.threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	out := make([]Recollection, 0, len(results))
	for _, r := range results {
		p := r.Point.Payload
		text, _ := p["text"].(string)
		if text == "" {
			continue
		}
		rec := Recollection{Text: text, Score: r.Score}
		rec.Session, _ = p["session"].(string)
		if k, ok := p["kind"].(string); ok {
			rec.Kind = Kind(k)
		}
		if a, ok := p["author"].(string); ok {
			rec.Author = core.Role(a)
		}
		if round, ok := p["round"].(int64); ok {
			rec.Round = int(round)
		}
		out = append(out, rec)
	}
	return out, nil
}

// InMemoryVectorStore is a brute-force cosine VectorStore kept in process.
type InMemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

// NewInMemoryVectorStore creates an empty store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{collections: make(map[string]map[string]Point)}
}

// CreateCollection implements VectorStore.
func (s *InMemoryVectorStore) CreateCollection(_ context.Context, name string, _ uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	s.collections[name] = make(map[string]Point)
	return nil
}

// CollectionExists implements VectorStore.
func (s *InMemoryVectorStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// Upsert implements VectorStore.
func (s *InMemoryVectorStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s not found", collection)
	}
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

// Search implements VectorStore.
func (s *InMemoryVectorStore) Search(_ context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", collection)
	}
	var out []SearchResult
	for id, p := range c {
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		out = append(out, SearchResult{ID: id, Score: score, Point: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
