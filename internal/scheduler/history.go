// history.go keeps a bounded log of fired activations in bbolt.
// Jobs themselves are never persisted; only what happened when they fired.

package scheduler

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

const activationsBucket = "activations"

// DefaultHistoryLimit is used when OpenHistory is given a non-positive limit.
const DefaultHistoryLimit = 1000

// Activation records one firing of a job.
type Activation struct {
	Seq        uint64    `json:"seq"`
	JobID      string    `json:"job_id"`
	Name       string    `json:"name,omitempty"`
	FiredAt    time.Time `json:"fired_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// HistoryStore provides persistent storage for activations
type HistoryStore struct {
	db    *bolt.DB
	limit int
}

// OpenHistory opens or creates the history database. At most limit
// activations are kept; older ones are pruned on write.
func OpenHistory(dbPath string, limit int) (*HistoryStore, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(activationsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &HistoryStore{db: db, limit: limit}, nil
}

// Record appends an activation and prunes the oldest beyond the limit.
func (h *HistoryStore) Record(a *Activation) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(activationsBucket))

		seq, _ := b.NextSequence()
		a.Seq = seq

		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		// Stats does not see uncommitted writes, so count with a cursor.
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		excess := len(keys) - h.limit
		if excess <= 0 {
			return nil
		}
		// Deleting while iterating skips keys, so collect first.
		stale := keys[:excess]
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns up to n activations, newest first. An empty jobID matches
// every job.
func (h *HistoryStore) Recent(jobID string, n int) ([]*Activation, error) {
	var out []*Activation

	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(activationsBucket))
		c := b.Cursor()

		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var a Activation
			if err := json.Unmarshal(v, &a); err != nil {
				continue
			}
			if jobID != "" && a.JobID != jobID {
				continue
			}
			out = append(out, &a)
		}
		return nil
	})

	return out, err
}

// Count returns the number of stored activations
func (h *HistoryStore) Count() (int, error) {
	var count int
	err := h.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(activationsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the database
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// itob converts uint64 to big-endian bytes for ordered keys
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
