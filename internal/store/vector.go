package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/source"
)

// Payload is the lightweight metadata stored next to each vector. Full
// documents live in the lexical index.
type Payload struct {
	Code           string
	Section        string
	ContentPreview string
}

// NewPayload builds the payload for d, truncating the section label to 200
// and the preview to 500 characters.
func NewPayload(d *source.Document) Payload {
	return Payload{
		Code:           strings.ToUpper(d.CodeAbbrev),
		Section:        truncate(d.Section, 200),
		ContentPreview: truncate(d.Content, 500),
	}
}

// VectorItem is one vector to upsert.
type VectorItem struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// VectorQuery is one nearest-neighbour search.
type VectorQuery struct {
	Vector []float32
	Limit  int
	// MinScore drops hits whose cosine similarity is below it.
	MinScore float64
	// Code keeps only hits whose payload code matches.
	Code string
}

// VectorIndexConfig tunes the HNSW graph.
type VectorIndexConfig struct {
	Dimensions int
	M          int
	EfSearch   int
	// CompactRatio triggers a graph rebuild on Flush when orphaned nodes
	// exceed this fraction of the graph.
	CompactRatio float64
}

// DefaultVectorIndexConfig returns defaults for dims-sized vectors.
func DefaultVectorIndexConfig(dims int) VectorIndexConfig {
	return VectorIndexConfig{Dimensions: dims, M: 16, EfSearch: 64, CompactRatio: 0.25}
}

// VectorIndex is a cosine-similarity HNSW index keyed by document ID.
//
// Replacing a vector orphans the old graph node rather than deleting it,
// since coder/hnsw can break the graph when the last node of a layer is
// removed. Orphans are skipped at search time and dropped by compaction.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig
	path   string

	idMap   map[string]uint64
	keyMap  map[uint64]string
	payload map[string]Payload
	nextKey uint64

	dirty  bool
	closed bool
}

// vectorMetadata is persisted next to the graph.
type vectorMetadata struct {
	IDMap   map[string]uint64
	Payload map[string]Payload
	NextKey uint64
	Config  VectorIndexConfig
}

// NewVectorIndex opens the index persisted at path, or creates an empty one.
// An empty path keeps the index in memory only.
func NewVectorIndex(path string, cfg VectorIndexConfig) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	def := DefaultVectorIndexConfig(cfg.Dimensions)
	if cfg.M == 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = def.EfSearch
	}
	if cfg.CompactRatio == 0 {
		cfg.CompactRatio = def.CompactRatio
	}

	v := &VectorIndex{
		graph:   newGraph(cfg),
		config:  cfg,
		path:    path,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		payload: make(map[string]Payload),
	}

	if path == "" {
		return v, nil
	}
	if _, err := os.Stat(path + ".meta"); os.IsNotExist(err) {
		return v, nil
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func newGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Dimensions returns the vector size the index accepts.
func (v *VectorIndex) Dimensions() int {
	return v.config.Dimensions
}

// Upsert adds or replaces vectors. A vector of the wrong size fails only its
// own item.
func (v *VectorIndex) Upsert(ctx context.Context, items []VectorItem) map[string]error {
	failed := make(map[string]error)
	if len(items) == 0 {
		return failed
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, it := range items {
		if v.closed {
			failed[it.ID] = apperrors.IndexWriteError("vector", it.ID, fmt.Errorf("index is closed"))
			continue
		}
		if err := ctx.Err(); err != nil {
			failed[it.ID] = apperrors.IndexWriteError("vector", it.ID, err)
			continue
		}
		if len(it.Vector) != v.config.Dimensions {
			failed[it.ID] = apperrors.New(apperrors.ErrCodeDimensionMismatch,
				"vector rejected for "+it.ID,
				ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(it.Vector)})
			continue
		}

		if oldKey, ok := v.idMap[it.ID]; ok {
			delete(v.keyMap, oldKey)
		}

		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)
		normalizeVectorInPlace(vec)

		key := v.nextKey
		v.nextKey++
		v.graph.Add(hnsw.MakeNode(key, vec))

		v.idMap[it.ID] = key
		v.keyMap[key] = it.ID
		v.payload[it.ID] = it.Payload
		v.dirty = true
	}
	return failed
}

// Search returns up to q.Limit hits with similarity at least q.MinScore,
// ordered by similarity then ID.
func (v *VectorIndex) Search(ctx context.Context, q VectorQuery) ([]Hit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(q.Vector) != v.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(q.Vector)}
	}
	if q.Limit <= 0 || v.graph.Len() == 0 {
		return []Hit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := make([]float32, len(q.Vector))
	copy(query, q.Vector)
	normalizeVectorInPlace(query)

	// over-fetch to make room for orphans and post-filtered hits
	want := q.Limit + v.graph.Len() - len(v.idMap)
	if q.Code != "" {
		want += q.Limit * 3
	}
	if want > v.graph.Len() {
		want = v.graph.Len()
	}

	code := strings.ToUpper(q.Code)
	hits := make([]Hit, 0, q.Limit)
	for _, node := range v.graph.Search(query, want) {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		if code != "" && v.payload[id].Code != code {
			continue
		}
		score := float64(1 - v.graph.Distance(query, node.Value))
		if score < q.MinScore {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// Payload returns the stored payload for id.
func (v *VectorIndex) Payload(id string) (Payload, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.payload[id]
	return p, ok
}

// Contains reports whether id has a live vector.
func (v *VectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// VectorStats reports graph occupancy.
type VectorStats struct {
	Live       int
	GraphNodes int
	Orphans    int
}

// Stats returns occupancy counts used to decide on compaction.
func (v *VectorIndex) Stats() VectorStats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return VectorStats{}
	}
	nodes := v.graph.Len()
	return VectorStats{Live: len(v.idMap), GraphNodes: nodes, Orphans: nodes - len(v.idMap)}
}

// Flush compacts the graph if enough nodes are orphaned, then persists it
// atomically. In-memory indexes only compact.
func (v *VectorIndex) Flush(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("index is closed")
	}
	if nodes := v.graph.Len(); nodes > 0 {
		if orphans := nodes - len(v.idMap); float64(orphans)/float64(nodes) > v.config.CompactRatio {
			v.compactLocked()
		}
	}
	if v.path == "" || !v.dirty {
		return nil
	}
	if err := v.saveLocked(); err != nil {
		return err
	}
	v.dirty = false
	return nil
}

// compactLocked rebuilds the graph from live vectors only.
func (v *VectorIndex) compactLocked() {
	before := v.graph.Len()
	fresh := newGraph(v.config)
	idMap := make(map[string]uint64, len(v.idMap))
	keyMap := make(map[uint64]string, len(v.idMap))

	ids := make([]string, 0, len(v.idMap))
	for id := range v.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var next uint64
	for _, id := range ids {
		vec, ok := v.graph.Lookup(v.idMap[id])
		if !ok {
			continue
		}
		fresh.Add(hnsw.MakeNode(next, vec))
		idMap[id] = next
		keyMap[next] = id
		next++
	}

	v.graph = fresh
	v.idMap = idMap
	v.keyMap = keyMap
	v.nextKey = next
	v.dirty = true

	slog.Info("vector_index_compacted",
		slog.Int("nodes_before", before),
		slog.Int("nodes_after", fresh.Len()))
}

func (v *VectorIndex) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := v.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := v.graph.Export(w); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write graph: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync index file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return v.saveMetadata(v.path + ".meta")
}

func (v *VectorIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:   v.idMap,
		Payload: v.payload,
		NextKey: v.nextKey,
		Config:  v.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (v *VectorIndex) load() error {
	file, err := os.Open(v.path + ".meta")
	if err != nil {
		return fmt.Errorf("open vector metadata: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return apperrors.New(apperrors.ErrCodeCorruptIndex, "vector index metadata is unreadable", err).
			WithSuggestion(fmt.Sprintf("Remove %s* and run 'legalcodes sync --full'", v.path))
	}
	if meta.Config.Dimensions != v.config.Dimensions {
		return apperrors.New(apperrors.ErrCodeDimensionMismatch, "vector index was built with a different model",
			ErrDimensionMismatch{Expected: v.config.Dimensions, Got: meta.Config.Dimensions}).
			WithSuggestion("Use a fresh storage.data_dir or run 'legalcodes sync --full' after removing the old index")
	}

	graphFile, err := os.Open(v.path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer func() { _ = graphFile.Close() }()

	// coder/hnsw Import requires an io.ByteReader
	if err := v.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return apperrors.New(apperrors.ErrCodeCorruptIndex, "vector index graph is unreadable", err)
	}

	v.idMap = meta.IDMap
	v.payload = meta.Payload
	if v.payload == nil {
		v.payload = make(map[string]Payload)
	}
	v.nextKey = meta.NextKey
	v.keyMap = make(map[uint64]string, len(v.idMap))
	for id, key := range v.idMap {
		v.keyMap[key] = id
	}
	return nil
}

// Close releases the graph. Unflushed changes are lost.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.graph = nil
	return nil
}

func normalizeVectorInPlace(vec []float32) {
	var sumSquares float64
	for _, val := range vec {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= inv
	}
}
