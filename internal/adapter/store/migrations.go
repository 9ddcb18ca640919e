package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
//
//	v1: chunks, vectors and meta per collection
//	v2: postings bucket and corpus length statistics for keyword search
//	v3: status keys separate course and chapter with NUL
const CurrentSchemaVersion = 3

var keySchemaVersion = []byte("schema_version")

func (s *BoltStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSchema).Get(keySchemaVersion)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &version); err != nil {
			version = 1
		}
		return nil
	})
	return version, err
}

func (s *BoltStore) setSchemaVersion(tx *bbolt.Tx, version int) error {
	data, err := json.Marshal(version)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSchema).Put(keySchemaVersion, data)
}

// Migrate upgrades the file to CurrentSchemaVersion. A file written by a
// newer version is refused.
func (s *BoltStore) Migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database created by newer version (v%d > v%d)", version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.setSchemaVersion(tx, CurrentSchemaVersion)
	})
}

func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 0 && to == 1:
		return nil
	case from == 1 && to == 2:
		return s.db.Update(s.backfillPostings)
	case from == 2 && to == 3:
		return s.db.Update(rekeyStatus)
	default:
		return nil
	}
}

// rekeyStatus rewrites every status row under the key derived from the
// course and chapter it records.
func rekeyStatus(tx *bbolt.Tx) error {
	b := tx.Bucket(bucketStatus)
	rows := make(map[string][]byte)
	var stale [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var st domain.IndexStatus
		if err := json.Unmarshal(v, &st); err != nil {
			return fmt.Errorf("decode status %s: %w", k, err)
		}
		stale = append(stale, append([]byte(nil), k...))
		rows[string(statusKey(st.CourseID, st.ChapterRef))] = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	for k, v := range rows {
		if err := b.Put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// backfillPostings rebuilds postings and length statistics of every
// collection from the stored chunk text.
func (s *BoltStore) backfillPostings(tx *bbolt.Tx) error {
	var names [][]byte
	err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		if !isReserved(name) {
			names = append(names, append([]byte(nil), name...))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, name := range names {
		c := &boltCollection{store: s, name: string(name)}
		root := tx.Bucket(name)
		if root.Bucket(bucketPostings) != nil {
			if err := root.DeleteBucket(bucketPostings); err != nil {
				return err
			}
		}
		b, err := c.create(tx)
		if err != nil {
			return err
		}

		var docs, total int
		updates := make(map[string][]byte)
		err = b.chunks.ForEach(func(k, v []byte) error {
			var stored storedChunk
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("decode chunk %s: %w", k, err)
			}
			tokens := s.tokenizer.Tokenize(stored.Text)
			stored.Length = len(tokens)
			stored.Terms = analyzer.TermFrequencies(tokens)
			for term, tf := range stored.Terms {
				if err := b.postings.Put(postingKey(term, string(k)), encodeUint(uint64(tf))); err != nil {
					return err
				}
			}
			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			updates[string(k)] = data
			docs++
			total += stored.Length
			return nil
		})
		if err != nil {
			return err
		}
		// bbolt forbids writes to a bucket while iterating it.
		for id, data := range updates {
			if err := b.chunks.Put([]byte(id), data); err != nil {
				return err
			}
		}
		if err := b.meta.Put(keyDocCount, encodeUint(uint64(docs))); err != nil {
			return err
		}
		if err := b.meta.Put(keyTotalLen, encodeUint(uint64(total))); err != nil {
			return err
		}
	}
	return nil
}
