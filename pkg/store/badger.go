package store

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Single-byte prefixes keep keys compact.
const (
	prefixConcept = byte(0x01) // concept:<id> -> JSON(node)
	prefixEdge    = byte(0x02) // edge:<a\x00b> -> JSON(edge)
)

// BadgerStore is the persistent concept graph engine.
//
// The full graph is held in memory (a MemoryStore) and written through to
// BadgerDB on every mutation, so reads never touch disk and restart recovery
// is a straight scan. In-memory state is authoritative: a persistence failure
// is logged and the in-memory mutation stands, per the engine's best-effort
// durability contract. The periodic JSON snapshot provides the second layer
// of restart durability.
//
// Example:
//
//	st, err := store.NewBadgerStore("./data", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	st.Upsert("photosynthesis", embedding)
//	// Process restart: NewBadgerStore reloads the node from disk.
type BadgerStore struct {
	mem *MemoryStore
	db  *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// BadgerOptions configures the persistent engine.
type BadgerOptions struct {
	// DataDir is the directory for Badger's data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for tests that
	// want persistence semantics without disk I/O.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool

	// Store holds the graph-level options (similarity threshold, initial
	// ease). If nil, DefaultOptions() is used.
	Store *Options
}

// NewBadgerStore opens or creates a persistent concept graph at dataDir.
// The existing graph, if any, is loaded into memory before returning.
func NewBadgerStore(dataDir string, opts *Options) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{DataDir: dataDir, Store: opts})
}

// NewBadgerStoreWithOptions opens a persistent store with explicit Badger
// settings. Memory-constrained Badger options are always applied — the
// concept graph is small and Badger's defaults are tuned for much larger
// datasets.
func NewBadgerStoreWithOptions(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(8 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{
		mem: NewMemoryStore(opts.Store),
		db:  db,
	}
	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load concept graph: %w", err)
	}
	return s, nil
}

// loadAll scans every persisted concept and edge into the in-memory graph.
func (s *BadgerStore) loadAll() error {
	var nodes []*ConceptNode
	var edges []*ConceptEdge

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) == 0 {
				continue
			}
			switch key[0] {
			case prefixConcept:
				var sn snapshotNode
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &sn)
				}); err != nil {
					log.Printf("store: skipping corrupt concept record %q: %v", key[1:], err)
					continue
				}
				nodes = append(nodes, fromSnapshotNode(sn))
			case prefixEdge:
				var se snapshotEdge
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &se)
				}); err != nil {
					log.Printf("store: skipping corrupt edge record %q: %v", key[1:], err)
					continue
				}
				edges = append(edges, fromSnapshotEdge(se))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.mem.replaceAll(nodes, edges)
}

func conceptKey(id string) []byte {
	return append([]byte{prefixConcept}, id...)
}

func edgeStoreKey(key string) []byte {
	return append([]byte{prefixEdge}, key...)
}

// persistNode writes a node record. Failures are logged, not returned: the
// in-memory graph remains authoritative for the running process.
func (s *BadgerStore) persistNode(n *ConceptNode) {
	sn := toSnapshotNode(n)
	data, err := json.Marshal(&sn)
	if err != nil {
		log.Printf("store: marshal concept %q: %v", n.ID, err)
		return
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(conceptKey(n.ID), data)
	}); err != nil {
		log.Printf("store: persist concept %q: %v", n.ID, err)
	}
}

func (s *BadgerStore) persistEdge(e *ConceptEdge) {
	se := toSnapshotEdge(e)
	data, err := json.Marshal(&se)
	if err != nil {
		log.Printf("store: marshal edge %q-%q: %v", e.A, e.B, err)
		return
	}
	_, _, key := edgeKey(e.A, e.B)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(edgeStoreKey(key), data)
	}); err != nil {
		log.Printf("store: persist edge %q-%q: %v", e.A, e.B, err)
	}
}

// Upsert creates or touches a concept and writes it through to disk.
func (s *BadgerStore) Upsert(label string, embedding []float32) (*ConceptNode, error) {
	node, err := s.mem.Upsert(label, embedding)
	if err != nil {
		return nil, err
	}
	s.persistNode(node)
	return node, nil
}

// Update commits scheduler/decay state and writes it through to disk.
func (s *BadgerStore) Update(node *ConceptNode) error {
	if err := s.mem.Update(node); err != nil {
		return err
	}
	committed, err := s.mem.Get(node.ID)
	if err != nil {
		return err
	}
	s.persistNode(committed)
	return nil
}

// Link adds or accumulates a similarity edge and writes it through to disk.
func (s *BadgerStore) Link(labelA, labelB string, similarity float64) (bool, error) {
	linked, err := s.mem.Link(labelA, labelB, similarity)
	if err != nil || !linked {
		return linked, err
	}
	if edge, ok := s.mem.getEdge(labelA, labelB); ok {
		s.persistEdge(edge)
	}
	return true, nil
}

// Get returns a copy of the concept, or ErrNotFound.
func (s *BadgerStore) Get(label string) (*ConceptNode, error) { return s.mem.Get(label) }

// AllNodes returns a point-in-time copy of every concept.
func (s *BadgerStore) AllNodes() ([]*ConceptNode, error) { return s.mem.AllNodes() }

// AllEdges returns a point-in-time copy of every edge.
func (s *BadgerStore) AllEdges() ([]*ConceptEdge, error) { return s.mem.AllEdges() }

// Neighbors returns copies of the concepts linked to label.
func (s *BadgerStore) Neighbors(label string) ([]*ConceptNode, error) {
	return s.mem.Neighbors(label)
}

// Delete removes a concept and its edges from memory and disk.
func (s *BadgerStore) Delete(label string) error {
	id := NormalizeLabel(label)
	neighbors, _ := s.mem.Neighbors(id)

	if err := s.mem.Delete(id); err != nil {
		return err
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(conceptKey(id)); err != nil {
			return err
		}
		for _, n := range neighbors {
			_, _, key := edgeKey(id, n.ID)
			if err := txn.Delete(edgeStoreKey(key)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		log.Printf("store: delete concept %q from disk: %v", id, err)
	}
	return nil
}

// SaveSnapshot serializes the full graph to a JSON file.
func (s *BadgerStore) SaveSnapshot(path string) error { return s.mem.SaveSnapshot(path) }

// LoadSnapshot replaces the graph from a JSON snapshot and rewrites the
// Badger copy to match.
func (s *BadgerStore) LoadSnapshot(path string) error {
	if err := s.mem.LoadSnapshot(path); err != nil {
		return err
	}
	if err := s.db.DropAll(); err != nil {
		log.Printf("store: drop stale records after snapshot load: %v", err)
	}
	nodes, _ := s.mem.AllNodes()
	for _, n := range nodes {
		s.persistNode(n)
	}
	edges, _ := s.mem.AllEdges()
	for _, e := range edges {
		s.persistEdge(e)
	}
	return nil
}

// Close flushes and closes BadgerDB.
func (s *BadgerStore) Close() error {
	if err := s.mem.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
