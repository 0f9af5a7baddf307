package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"detbatch/internal/dao"
)

const (
	lastBatchKey   = "last_batch"
	batchKeyPrefix = "batch:"
	rowKeyPrefix   = "row:"
)

// Ledger records batch runs and the outcome of each of their rows.
type Ledger struct {
	db     *badger.DB
	logger *logrus.Entry
}

func NewLedger(dir string, logger *logrus.Entry) (*Ledger, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{
		db:     db,
		logger: logger,
	}, nil
}

func (m *Ledger) Close() error {
	return m.db.Close()
}

func (m *Ledger) get(key []byte, v any) (bool, error) {
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Ledger) set(key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func batchKey(id string) []byte {
	return []byte(batchKeyPrefix + id)
}

func rowPrefix(batchId string) []byte {
	return []byte(rowKeyPrefix + batchId + ":")
}

func rowKey(batchId string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", rowKeyPrefix, batchId, seq))
}

// PutBatch stores run and marks it as the most recent batch.
func (m *Ledger) PutBatch(run *dao.BatchRun) error {
	val, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(batchKey(run.Id), val); err != nil {
			return err
		}
		return txn.Set([]byte(lastBatchKey), []byte(run.Id))
	})
}

func (m *Ledger) GetBatch(id string) (*dao.BatchRun, error) {
	run := &dao.BatchRun{}
	found, err := m.get(batchKey(id), run)
	if err != nil || !found {
		return nil, err
	}
	return run, nil
}

// ListBatches returns all runs, most recently started first.
func (m *Ledger) ListBatches() ([]*dao.BatchRun, error) {
	prefix := []byte(batchKeyPrefix)
	runs := make([]*dao.BatchRun, 0, 10)
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			run := &dao.BatchRun{}
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, run)
			})
			if err != nil {
				m.logger.WithError(err).Errorf("unmarshal batch %s", item.Key())
			} else {
				runs = append(runs, run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	return runs, nil
}

func (m *Ledger) LastBatchId() (string, error) {
	var id string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastBatchKey))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		id = string(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	return id, err
}

func (m *Ledger) PutRow(row *dao.RowResult) error {
	return m.set(rowKey(row.BatchId, row.Seq), row)
}

func (m *Ledger) GetRow(batchId string, seq int) (*dao.RowResult, error) {
	row := &dao.RowResult{}
	found, err := m.get(rowKey(batchId, seq), row)
	if err != nil || !found {
		return nil, err
	}
	return row, nil
}

// GetRows returns the rows of a batch in table order.
func (m *Ledger) GetRows(batchId string) ([]*dao.RowResult, error) {
	prefix := rowPrefix(batchId)
	rows := make([]*dao.RowResult, 0, 10)
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			row := &dao.RowResult{}
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, row)
			})
			if err != nil {
				m.logger.WithError(err).Errorf("unmarshal row %s", item.Key())
			} else {
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SucceededRows returns the set of paths that finished successfully in a batch,
// including rows that batch itself skipped as already done.
func (m *Ledger) SucceededRows(batchId string) (map[string]bool, error) {
	rows, err := m.GetRows(batchId)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.Status == dao.RowStatusSucceeded || row.Status == dao.RowStatusSkipped {
			done[row.RelativePath] = true
		}
	}
	return done, nil
}
