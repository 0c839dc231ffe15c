// Package storage keeps room object maps on disk so a room survives a server
// restart.
package storage

import (
	"errors"
	"fmt"

	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/object"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("store closed")

// Store is a pebble database of CBOR-encoded snapshots.
// Key format: room:<code>:obj:<objectId>
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	logger.Info("opening store", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store open failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("store closed")
	return err
}

func roomPrefix(code string) []byte {
	return []byte("room:" + code + ":obj:")
}

func objectKey(code, id string) []byte {
	return append(roomPrefix(code), id...)
}

// upperBound: smallest key greater than every key sharing prefix
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// SaveObject writes the snapshot for o in room code.
func (s *Store) SaveObject(code string, o *object.GraphicObject) error {
	if s.db == nil {
		return ErrClosed
	}
	data, err := object.EncodeCBOR(o)
	if err != nil {
		return err
	}
	if err := s.db.Set(objectKey(code, o.ID), data, pebble.Sync); err != nil {
		metrics.StoreErrors.WithLabelValues("save").Inc()
		logger.Error("save object failed", zap.String("room", code), zap.String("id", o.ID), zap.Error(err))
		return fmt.Errorf("save object %s: %w", o.ID, err)
	}
	return nil
}

func (s *Store) DeleteObject(code, id string) error {
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Delete(objectKey(code, id), pebble.Sync); err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		logger.Error("delete object failed", zap.String("room", code), zap.String("id", id), zap.Error(err))
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	return nil
}

// ClearRoom removes every object of room code.
func (s *Store) ClearRoom(code string) error {
	if s.db == nil {
		return ErrClosed
	}
	prefix := roomPrefix(code)
	if err := s.db.DeleteRange(prefix, upperBound(prefix), pebble.Sync); err != nil {
		metrics.StoreErrors.WithLabelValues("clear").Inc()
		logger.Error("clear room failed", zap.String("room", code), zap.Error(err))
		return fmt.Errorf("clear room %s: %w", code, err)
	}
	return nil
}

// LoadRoom returns every stored snapshot of room code keyed by id. Entries
// that fail to decode are logged and skipped.
func (s *Store) LoadRoom(code string) (map[string]*object.GraphicObject, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	prefix := roomPrefix(code)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}
	defer iter.Close()

	out := make(map[string]*object.GraphicObject)
	for iter.First(); iter.Valid(); iter.Next() {
		o, err := object.DecodeCBOR(iter.Value())
		if err != nil {
			logger.Warn("skipping corrupt object", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		out[o.ID] = o
	}
	if err := iter.Error(); err != nil {
		metrics.StoreErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}
	return out, nil
}
