package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"campusrag/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

// SchemaInfo stores the schema version and configuration hash of one domain.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// GetSchemaInfo retrieves the schema info recorded for d.
func (s *BoltStore) GetSchemaInfo(d domain.Domain) (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(d))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &info)
	})
	return &info, err
}

// SetSchemaInfo stores the schema info for d.
func (s *BoltStore) SetSchemaInfo(d domain.Domain, info *SchemaInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(d), data)
	})
}

// ComputeConfigHash hashes the settings that make stored embeddings
// incomparable with new ones. A change means the domain must be re-ingested.
func ComputeConfigHash(dimension int, embeddingModel string) string {
	relevant := struct {
		Dimension int    `json:"dimension"`
		Model     string `json:"model"`
	}{
		Dimension: dimension,
		Model:     embeddingModel,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// CheckMigration checks if migration or rebuild is needed for d.
func (s *BoltStore) CheckMigration(d domain.Domain, dimension int, embeddingModel string) (*MigrationResult, error) {
	info, err := s.GetSchemaInfo(d)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.Version > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("database created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result, nil
	}

	newHash := ComputeConfigHash(dimension, embeddingModel)
	if info.ConfigHash != "" && info.ConfigHash != newHash {
		result.NeedsRebuild = true
		result.Reason = "embedding dimension or model changed"
	}

	return result, nil
}

// Migrate performs any necessary schema migrations for d.
func (s *BoltStore) Migrate(d domain.Domain, dimension int, embeddingModel string) error {
	info, err := s.GetSchemaInfo(d)
	if err != nil {
		return err
	}

	for v := info.Version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(d, v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}

	return s.SetSchemaInfo(d, &SchemaInfo{
		Version:    CurrentSchemaVersion,
		ConfigHash: ComputeConfigHash(dimension, embeddingModel),
	})
}

func (s *BoltStore) runMigration(d domain.Domain, from, to int) error {
	switch {
	case from == 0 && to == 1:
		return s.db.Update(func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists([]byte(d))
			if err != nil {
				return err
			}
			for _, sub := range [][]byte{bucketChunks, bucketKeys} {
				if _, err := b.CreateBucketIfNotExists(sub); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		return nil
	}
}

// Clear removes every chunk of d, keeping its schema info. An open
// collection for d is emptied as well.
func (s *BoltStore) Clear(d domain.Domain) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(d))
		if b == nil {
			return nil
		}
		for _, sub := range [][]byte{bucketChunks, bucketKeys} {
			if err := b.DeleteBucket(sub); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := b.CreateBucket(sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[d]; ok {
		c.mem.Reset()
	}
	return nil
}

// NeedsRebuild checks if d must be re-ingested due to config changes.
func (s *BoltStore) NeedsRebuild(d domain.Domain, dimension int, embeddingModel string) (bool, string, error) {
	result, err := s.CheckMigration(d, dimension, embeddingModel)
	if err != nil {
		return false, "", err
	}
	return result.NeedsRebuild, result.Reason, nil
}
