package local

import (
	"context"
	"sync"

	"github.com/fogfish/hnsw"
	hnswvec "github.com/fogfish/hnsw/vector"
	surface "github.com/kshard/vector"
)

const (
	hnswM              = 16
	hnswEfConstruction = 200
	hnswEfSearch       = 100
)

// vectorIndex keeps one in-process HNSW graph per model name. The graph only
// stores uint32 keys; the maps translate them back to song ids. HNSW has no
// delete, so removed songs are dropped from the maps and filtered at lookup.
type vectorIndex struct {
	mu      sync.RWMutex
	graphs  map[string]*hnsw.HNSW[hnswvec.VF32]
	keyToID map[string]map[uint32]string
	idToKey map[string]map[string]uint32
	nextKey uint32
}

func newVectorIndex() *vectorIndex {
	return &vectorIndex{
		graphs:  make(map[string]*hnsw.HNSW[hnswvec.VF32]),
		keyToID: make(map[string]map[uint32]string),
		idToKey: make(map[string]map[string]uint32),
		nextKey: 1,
	}
}

func (x *vectorIndex) graph(modelName string) *hnsw.HNSW[hnswvec.VF32] {
	if g, ok := x.graphs[modelName]; ok {
		return g
	}
	g := hnsw.New(
		hnswvec.SurfaceVF32(surface.Cosine()),
		hnsw.WithM(hnswM),
		hnsw.WithEfConstruction(hnswEfConstruction),
	)
	x.graphs[modelName] = g
	x.keyToID[modelName] = make(map[uint32]string)
	x.idToKey[modelName] = make(map[string]uint32)
	return g
}

func (x *vectorIndex) Insert(modelName, songID string, vec []float32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	g := x.graph(modelName)
	// Re-inserting a song leaves the stale graph node unreachable through
	// the id maps; search filters it out.
	if old, ok := x.idToKey[modelName][songID]; ok {
		delete(x.keyToID[modelName], old)
	}
	key := x.nextKey
	x.nextKey++
	x.idToKey[modelName][songID] = key
	x.keyToID[modelName][key] = songID
	g.Insert(hnswvec.VF32{Key: key, Vec: vec})
}

func (x *vectorIndex) RemoveSong(songID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for modelName, ids := range x.idToKey {
		if key, ok := ids[songID]; ok {
			delete(ids, songID)
			delete(x.keyToID[modelName], key)
		}
	}
}

// Search returns candidate song ids nearest to query, most similar first.
// Callers re-score candidates exactly, so this may over-fetch.
func (x *vectorIndex) Search(modelName string, query []float32, k int) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	g, ok := x.graphs[modelName]
	if !ok {
		return nil
	}
	neighbors := g.Search(hnswvec.VF32{Key: 0, Vec: query}, k, hnswEfSearch)
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if id, ok := x.keyToID[modelName][n.Key]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// loadIndex rebuilds the in-memory graphs from the embeddings table on open.
func (b *LocalBackend) loadIndex(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx, "SELECT song_id, model_name, vector FROM embeddings")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var songID, modelName string
		var blob []byte
		if err := rows.Scan(&songID, &modelName, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return err
		}
		b.index.Insert(modelName, songID, vec)
	}
	return rows.Err()
}
