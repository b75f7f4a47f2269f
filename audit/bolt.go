package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var auditBucket = []byte("generation_audit")

// BoltSink stores audits as JSON values in a bbolt bucket. Keys start with
// the creation time so a cursor walks them in write order.
type BoltSink struct {
	db *bolt.DB
}

// NewBoltSink opens or creates the database at path.
func NewBoltSink(path string) (*BoltSink, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt audit sink requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(auditBucket)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltSink{db: db}, nil
}

func boltKey(a GenerationAudit) []byte {
	return []byte(fmt.Sprintf("%020d-%s", a.CreatedAt.UnixNano(), a.ID))
}

// Record implements Sink.
func (s *BoltSink) Record(_ context.Context, a GenerationAudit) error {
	a = a.Stamp()
	enc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auditBucket).Put(boltKey(a), enc)
	})
}

// Recent returns up to limit audits, newest first. Malformed entries are
// skipped.
func (s *BoltSink) Recent(limit int) ([]GenerationAudit, error) {
	var out []GenerationAudit
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var a GenerationAudit
			if e := json.Unmarshal(v, &a); e != nil {
				continue
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// Close closes the database.
func (s *BoltSink) Close() error {
	return s.db.Close()
}
