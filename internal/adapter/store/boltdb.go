package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"campusrag/internal/adapter/memstore"
	"campusrag/internal/domain"
	"campusrag/internal/index"
)

var (
	bucketChunks = []byte("chunks")
	bucketKeys   = []byte("keys")
	bucketMeta   = []byte("meta")
)

// BoltStore is a single bbolt file holding one top-level bucket per domain.
type BoltStore struct {
	db *bbolt.DB

	mu          sync.Mutex
	collections map[domain.Domain]*Collection
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open bolt db: %v", domain.ErrStoreUnavailable, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create meta bucket: %w", err)
	}

	return &BoltStore{db: db, collections: make(map[domain.Domain]*Collection)}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

// Collection opens the bucket for one domain, loading its chunks into memory.
func (s *BoltStore) Collection(d domain.Domain, dimension int, opts index.Options) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[d]; ok {
		if c.mem.Dimension() != dimension {
			return nil, fmt.Errorf("collection %s already open with dimension %d", d, c.mem.Dimension())
		}
		return c, nil
	}

	name := []byte(d)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(name)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", d, err)
		}
		for _, sub := range [][]byte{bucketChunks, bucketKeys} {
			if _, err := b.CreateBucketIfNotExists(sub); err != nil {
				return fmt.Errorf("failed to create bucket %s/%s: %w", d, sub, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := &Collection{
		db:     s.db,
		bucket: name,
		mem:    memstore.NewMemoryStore(d, dimension, opts),
	}
	if err := c.load(); err != nil {
		return nil, fmt.Errorf("failed to load %s chunks: %w", d, err)
	}
	s.collections[d] = c
	return c, nil
}

// Domains lists the domains that have a bucket in the file.
func (s *BoltStore) Domains() ([]domain.Domain, error) {
	var out []domain.Domain
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if d, err := domain.ParseDomain(string(name)); err == nil {
				out = append(out, d)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Collection is the chunk store of one domain. Writes go to bbolt first and
// then to the in-memory copy that serves reads.
type Collection struct {
	db     *bbolt.DB
	bucket []byte
	mem    *memstore.MemoryStore
}

type storedChunk struct {
	ID          int64           `json:"id"`
	URL         string          `json:"url"`
	ChunkNumber int             `json:"chunk_number"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Content     string          `json:"content"`
	Metadata    domain.Metadata `json:"metadata"`
	Embedding   []float32       `json:"embedding"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (c *Collection) load() error {
	return c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket).Bucket(bucketChunks)
		return b.ForEach(func(k, v []byte) error {
			var stored storedChunk
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			c.mem.Put(stored.toChunk())
			return nil
		})
	})
}

func (c *Collection) Domain() domain.Domain { return c.mem.Domain() }

func (c *Collection) Dimension() int { return c.mem.Dimension() }

func (c *Collection) Generation() uint64 { return c.mem.Generation() }

func (c *Collection) Upsert(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return domain.Chunk{}, err
	}
	if err := chunk.Validate(c.mem.Dimension()); err != nil {
		return domain.Chunk{}, err
	}
	if chunk.Metadata == nil {
		chunk.Metadata = domain.Metadata{}
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(c.bucket)
		chunks, keys := root.Bucket(bucketChunks), root.Bucket(bucketKeys)
		key := naturalKey(chunk.Key())

		if existing := keys.Get(key); existing != nil {
			var prev storedChunk
			if err := json.Unmarshal(chunks.Get(existing), &prev); err != nil {
				return fmt.Errorf("failed to decode chunk %s: %w", chunk.Key(), err)
			}
			chunk.ID = prev.ID
			chunk.CreatedAt = prev.CreatedAt
		} else {
			seq, err := chunks.NextSequence()
			if err != nil {
				return err
			}
			chunk.ID = int64(seq)
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = time.Now().UTC()
			}
		}

		data, err := json.Marshal(fromChunk(chunk))
		if err != nil {
			return err
		}
		// Serve metadata as a reopened store would decode it.
		var decoded storedChunk
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		chunk.Metadata = decoded.Metadata
		id := idKey(chunk.ID)
		if err := chunks.Put(id, data); err != nil {
			return err
		}
		return keys.Put(key, id)
	})
	if err != nil {
		return domain.Chunk{}, err
	}

	c.mem.Put(chunk)
	return chunk, nil
}

func (c *Collection) Get(ctx context.Context, key domain.ChunkKey) (domain.Chunk, error) {
	return c.mem.Get(ctx, key)
}

func (c *Collection) QueryNearest(ctx context.Context, query []float32, k int, filter *domain.Filter) ([]domain.SearchResult, error) {
	return c.mem.QueryNearest(ctx, query, k, filter)
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	return c.mem.Count(ctx)
}

// Close is a no-op; the file is closed by BoltStore.Close.
func (c *Collection) Close() error {
	return nil
}

func naturalKey(k domain.ChunkKey) []byte {
	return []byte(k.URL + "\x00" + strconv.Itoa(k.ChunkNumber))
}

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func fromChunk(c domain.Chunk) storedChunk {
	return storedChunk{
		ID:          c.ID,
		URL:         c.URL,
		ChunkNumber: c.ChunkNumber,
		Title:       c.Title,
		Summary:     c.Summary,
		Content:     c.Content,
		Metadata:    c.Metadata,
		Embedding:   c.Embedding,
		CreatedAt:   c.CreatedAt,
	}
}

func (s storedChunk) toChunk() domain.Chunk {
	return domain.Chunk{
		ID:          s.ID,
		URL:         s.URL,
		ChunkNumber: s.ChunkNumber,
		Title:       s.Title,
		Summary:     s.Summary,
		Content:     s.Content,
		Metadata:    s.Metadata,
		Embedding:   s.Embedding,
		CreatedAt:   s.CreatedAt,
	}
}
