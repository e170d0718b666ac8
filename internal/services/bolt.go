package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MegaGrindStone/poolsight/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the conversation journal using a BoltDB backend. Each conversation gets its own
// bucket under the conversations bucket, holding entries keyed by insertion sequence and an index from
// entry ID to that sequence, so an updated entry keeps its position.
type BoltDB struct {
	db *bolt.DB
}

var (
	conversationsBucket = []byte("conversations")
	entriesBucket       = []byte("entries")
	indexBucket         = []byte("index")
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})

	return BoltDB{db: db}, err
}

// Close closes the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Entries retrieves all entries of the conversation stored under key, in their stored order.
func (b BoltDB) Entries(_ context.Context, key string) ([]models.Entry, error) {
	var entries []models.Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		conv := tx.Bucket(conversationsBucket).Bucket([]byte(key))
		if conv == nil {
			return nil
		}
		eb := conv.Bucket(entriesBucket)
		if eb == nil {
			return nil
		}

		return eb.ForEach(func(_, v []byte) error {
			var entry models.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PutEntry stores entry in the conversation under key. A new entry is placed after every stored one;
// an entry stored before is overwritten in place.
func (b BoltDB) PutEntry(_ context.Context, key string, entry models.Entry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		conv, err := tx.Bucket(conversationsBucket).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}
		eb, err := conv.CreateBucketIfNotExists(entriesBucket)
		if err != nil {
			return fmt.Errorf("failed to create entries bucket: %w", err)
		}
		ib, err := conv.CreateBucketIfNotExists(indexBucket)
		if err != nil {
			return fmt.Errorf("failed to create index bucket: %w", err)
		}

		seqKey := ib.Get([]byte(entry.ID))
		if seqKey == nil {
			seq, err := eb.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}
			seqKey = binary.BigEndian.AppendUint64(nil, seq)
			if err := ib.Put([]byte(entry.ID), seqKey); err != nil {
				return fmt.Errorf("failed to index entry: %w", err)
			}
		}

		v, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		return eb.Put(seqKey, v)
	})
}

// Drop deletes the conversation stored under key. Dropping a conversation that doesn't exist is not
// an error.
func (b BoltDB) Drop(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(conversationsBucket).DeleteBucket([]byte(key))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
