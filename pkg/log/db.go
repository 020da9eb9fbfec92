// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const dbAPIversion = "1"

const defaultMaxKeys = 100000

// NewDB new log database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,

		wg:     wg,
		saveWG: &sync.WaitGroup{},
	}
}

// DB log database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	// Wait for last log to be saved before closing db.
	saveWG *sync.WaitGroup
}

// Init opens the database, it's closed when the context is canceled.
func (logDB *DB) Init(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(logDB.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("could not open database: %w: %v", err, logDB.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("could not create bucket: %v, %w", dbAPIversion, err)
	}

	logDB.db = db

	logDB.wg.Add(1)
	go func() {
		<-ctx.Done()
		logDB.saveWG.Wait()
		db.Close()
		logDB.wg.Done()
	}()

	return nil
}

// SaveLogs saves logs from the logger into the database until
// the context is canceled. The subscription is made before returning.
func (logDB *DB) SaveLogs(ctx context.Context, l *Logger) {
	feed, cancel := l.Subscribe()

	logDB.saveWG.Add(1)
	go func() {
		defer logDB.saveWG.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case log, ok := <-feed:
				if !ok {
					return
				}
				batch := drainFeed(feed, []Log{log})
				if err := logDB.saveLogs(batch); err != nil {
					fmt.Fprintf(os.Stderr, "could not save %v logs: %v\n", len(batch), err)
				}
			}
		}
	}()
}

const maxBatchSize = 512

// drainFeed appends the logs that are already buffered in the feed.
func drainFeed(feed <-chan Log, batch []Log) []Log {
	for len(batch) < maxBatchSize {
		select {
		case log, ok := <-feed:
			if !ok {
				return batch
			}
			batch = append(batch, log)
		default:
			return batch
		}
	}
	return batch
}

func (logDB *DB) saveLog(log Log) error {
	return logDB.saveLogs([]Log{log})
}

// saveLogs saves the logs in a single transaction.
func (logDB *DB) saveLogs(logs []Log) error {
	return logDB.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		keyN := b.Stats().KeyN
		for _, log := range logs {
			if keyN >= logDB.maxKeys {
				if err := deleteFirstKey(b); err != nil {
					return fmt.Errorf("could not delete first key: %w", err)
				}
				keyN--
			}
			if err := b.Put(encodeKey(uint64(log.Time)), encodeValue(log)); err != nil {
				return err
			}
			keyN++
		}
		return nil
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	return b.Delete(k)
}

// Query database query.
type Query struct {
	Levels  []Level
	Time    UnixMicro // Only return logs before this time.
	Sources []string
	Runs    []string
	Limit   int
}

// Query logs in database, newest first.
func (logDB *DB) Query(q Query) ([]Log, error) {
	var logs []Log

	err := logDB.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))
		c := b.Cursor()

		filterLog := func(rawLog []byte) error {
			var log Log
			if err := json.Unmarshal(rawLog, &log); err != nil {
				return fmt.Errorf("could not unmarshal log: %w", err)
			}

			if !levelInLevels(log.Level, q.Levels) {
				return nil
			}
			if !stringInStrings(log.Src, q.Sources) {
				return nil
			}
			if !stringInStrings(log.Run, q.Runs) {
				return nil
			}

			logs = append(logs, log)
			return nil
		}

		limit := q.Limit
		if limit == 0 {
			limit = defaultMaxKeys
		}

		var key, value []byte
		if q.Time == 0 {
			key, value = c.Last()
		} else {
			if k, _ := c.Seek(encodeKey(uint64(q.Time))); k == nil {
				key, value = c.Last()
			} else {
				key, value = c.Prev()
			}
		}

		for key != nil && len(logs) < limit {
			if err := filterLog(value); err != nil {
				return err
			}
			key, value = c.Prev()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return logs, nil
}

func levelInLevels(level Level, levels []Level) bool {
	if levels == nil {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func stringInStrings(source string, sources []string) bool {
	if sources == nil {
		return true
	}
	for _, src := range sources {
		if src == source {
			return true
		}
	}
	return false
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}

func encodeValue(log Log) []byte {
	value, _ := json.Marshal(log)
	return value
}
