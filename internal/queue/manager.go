package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// ErrNoMessage is returned when the queue has no visible message
var ErrNoMessage = errors.New("no messages in queue")

// Manager implements named persistent queues over BadgerDB.
//
// Key layout per queue:
//
//	queue:{name}:msg:{id}              -> message JSON
//	queue:{name}:index:{visibleAt}:{id} -> empty (scan order = visibility order)
//	queue:{name}:dedup:{dedupID}        -> message id (deleted with the message)
//	queue:{name}:counter:{completed|failed} -> uint64
type Manager struct {
	db                *badger.DB
	logger            arbor.ILogger
	visibilityTimeout time.Duration
	maxAttempts       int
	failureHook       FailureHook

	mu     sync.Mutex
	active map[string]int // In-flight messages per queue
}

// NewManager opens the queue database
func NewManager(path string, visibilityTimeout time.Duration, maxAttempts int, logger arbor.ILogger) (*Manager, error) {
	if path == "" {
		return nil, errors.New("queue path is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable default badger logger to use arbor

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	return &Manager{
		db:                db,
		logger:            logger,
		visibilityTimeout: visibilityTimeout,
		maxAttempts:       maxAttempts,
		active:            make(map[string]int),
	}, nil
}

// SetFailureHook registers the attempt-exhaustion hook
func (m *Manager) SetFailureHook(hook FailureHook) {
	m.failureHook = hook
}

// Enqueue adds a message to the named queue
func (m *Manager) Enqueue(ctx context.Context, queueName, msgType string, payload interface{}, opts ...EnqueueOption) (string, error) {
	options := EnqueueOptions{MaxAttempts: m.maxAttempts}
	for _, opt := range opts {
		opt(&options)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := Message{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Type:        msgType,
		Payload:     data,
		DedupID:     options.DedupID,
		MaxAttempts: options.MaxAttempts,
		EnqueuedAt:  time.Now(),
		VisibleAt:   time.Now().Add(options.Delay),
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		// Dedup: an existing live dedup key suppresses this enqueue
		if msg.DedupID != "" {
			dedupKey := m.dedupKey(queueName, msg.DedupID)
			if _, err := txn.Get(dedupKey); err == nil {
				return errDuplicate
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(dedupKey, []byte(msg.ID)); err != nil {
				return err
			}
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(queueName, msg.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(queueName, msg.VisibleAt, msg.ID), []byte{})
	})
	if err == errDuplicate {
		m.logger.Debug().
			Str("queue", queueName).
			Str("dedup_id", msg.DedupID).
			Msg("Enqueue suppressed by dedup id")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	return msg.ID, nil
}

var errDuplicate = errors.New("duplicate message")

// EnqueueRaw adds a message whose payload is already serialized JSON. Used by
// the dead-letter requeue path, which replays the original payload verbatim.
func (m *Manager) EnqueueRaw(ctx context.Context, queueName, msgType string, payload json.RawMessage, opts ...EnqueueOption) (string, error) {
	return m.Enqueue(ctx, queueName, msgType, payload, opts...)
}

// Receive pulls the next visible message from the named queue. The message
// becomes invisible for the visibility timeout; callers must finish with
// Done, Retry or Exhaust.
func (m *Manager) Receive(ctx context.Context, queueName string) (*Message, error) {
	var msg Message
	found := false

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(queueName, key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys sort by timestamp; nothing later is ready either
				break
			}

			item, err := txn.Get(m.msgKey(queueName, id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry; clean up and keep scanning
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			// Claim: bump attempts, push visibility out, re-index
			msg.Attempts++
			msg.VisibleAt = now.Add(m.visibilityTimeout)

			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(queueName, id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(queueName, msg.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			found = true
			return nil
		}
		return ErrNoMessage
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoMessage
	}

	m.mu.Lock()
	m.active[queueName]++
	m.mu.Unlock()

	return &msg, nil
}

// Done removes a successfully processed message
func (m *Manager) Done(ctx context.Context, msg *Message) error {
	m.release(msg.Queue)
	if err := m.remove(msg); err != nil {
		return err
	}
	return m.bumpCounter(msg.Queue, "completed")
}

// Retry re-schedules the message after delay without consuming an attempt
// beyond the delivery already counted
func (m *Manager) Retry(ctx context.Context, msg *Message, delay time.Duration) error {
	m.release(msg.Queue)

	return m.db.Update(func(txn *badger.Txn) error {
		oldIndex := m.indexKey(msg.Queue, msg.VisibleAt, msg.ID)
		msg.VisibleAt = time.Now().Add(delay)

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(msg.Queue, msg.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(msg.Queue, msg.VisibleAt, msg.ID), []byte{})
	})
}

// Exhaust invokes the failure hook and removes the message. Called when a
// message has no attempts left.
func (m *Manager) Exhaust(ctx context.Context, msg *Message, cause error) error {
	m.release(msg.Queue)

	if m.failureHook != nil {
		m.failureHook(msg.Queue, msg, cause)
	}

	if err := m.remove(msg); err != nil {
		return err
	}
	return m.bumpCounter(msg.Queue, "failed")
}

// Stats returns counts for the named queue
func (m *Manager) Stats(queueName string, waitingThreshold int) (*Stats, error) {
	stats := &Stats{Queue: queueName}

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts, _, err := m.parseIndexKey(queueName, it.Item().Key())
			if err != nil {
				continue
			}
			if ts.After(now) {
				stats.Delayed++
			} else {
				stats.Waiting++
			}
		}

		stats.Completed = m.readCounter(txn, queueName, "completed")
		stats.Failed = m.readCounter(txn, queueName, "failed")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue stats: %w", err)
	}

	m.mu.Lock()
	stats.Active = m.active[queueName]
	m.mu.Unlock()

	if waitingThreshold > 0 && stats.Waiting > waitingThreshold {
		stats.Unhealthy = true
	}
	return stats, nil
}

// Close closes the queue database
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) release(queueName string) {
	m.mu.Lock()
	if m.active[queueName] > 0 {
		m.active[queueName]--
	}
	m.mu.Unlock()
}

func (m *Manager) remove(msg *Message) error {
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(m.indexKey(msg.Queue, msg.VisibleAt, msg.ID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if msg.DedupID != "" {
			if err := txn.Delete(m.dedupKey(msg.Queue, msg.DedupID)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Delete(m.msgKey(msg.Queue, msg.ID))
	})
}

func (m *Manager) bumpCounter(queueName, name string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		key := m.counterKey(queueName, name)
		var current uint64
		item, err := txn.Get(key)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					current = binary.BigEndian.Uint64(val)
				}
				return nil
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, current+1)
		return txn.Set(key, buf)
	})
}

func (m *Manager) readCounter(txn *badger.Txn, queueName, name string) int64 {
	item, err := txn.Get(m.counterKey(queueName, name))
	if err != nil {
		return 0
	}
	var value int64
	_ = item.Value(func(val []byte) error {
		if len(val) == 8 {
			value = int64(binary.BigEndian.Uint64(val))
		}
		return nil
	})
	return value
}

func (m *Manager) msgKey(queueName, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queueName, id))
}

func (m *Manager) indexKey(queueName string, visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string sorting matches numeric sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queueName, visibleAt.UnixNano(), id))
}

func (m *Manager) dedupKey(queueName, dedupID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dedup:%s", queueName, dedupID))
}

func (m *Manager) counterKey(queueName, name string) []byte {
	return []byte(fmt.Sprintf("queue:%s:counter:%s", queueName, name))
}

func (m *Manager) parseIndexKey(queueName string, key []byte) (time.Time, string, error) {
	prefix := fmt.Sprintf("queue:%s:index:", queueName)
	suffix := strings.TrimPrefix(string(key), prefix)
	if len(suffix) < 22 { // 20 digit timestamp + colon + id
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
