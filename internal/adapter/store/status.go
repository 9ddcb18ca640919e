package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"coursekb/internal/domain"
)

// Chapter refs contain slashes, so course and chapter are split on NUL
// like posting keys.
func statusKey(courseID, chapterRef string) []byte {
	return []byte(courseID + "\x00" + chapterRef)
}

func statusPrefix(courseID string) []byte {
	return []byte(courseID + "\x00")
}

// GetStatus returns not_indexed for chapters that were never recorded.
func (s *BoltStore) GetStatus(ctx context.Context, courseID, chapterRef string) (domain.IndexStatus, error) {
	st := domain.IndexStatus{CourseID: courseID, ChapterRef: chapterRef, Status: domain.StatusNotIndexed}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStatus).Get(statusKey(courseID, chapterRef))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &st)
	})
	return st, err
}

func (s *BoltStore) PutStatus(ctx context.Context, status domain.IndexStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if status.CourseID == "" || status.ChapterRef == "" {
		return fmt.Errorf("status requires course and chapter")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStatus).Put(statusKey(status.CourseID, status.ChapterRef), data)
	})
}

// ListStatus returns the course's chapters ordered by chapter ref.
func (s *BoltStore) ListStatus(ctx context.Context, courseID string) ([]domain.IndexStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.IndexStatus
	prefix := statusPrefix(courseID)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketStatus).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var st domain.IndexStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decode status %s: %w", k, err)
			}
			out = append(out, st)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteStatus(ctx context.Context, courseID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := statusPrefix(courseID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
