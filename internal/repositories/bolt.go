package repositories

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketSettings = []byte("settings")

// BoltSettings implements the settings contract on a bbolt file.
type BoltSettings struct {
	db *bolt.DB
}

// OpenBoltSettings opens (or creates) the settings file at path.
func OpenBoltSettings(path string) (*BoltSettings, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings bucket: %w", err)
	}
	return &BoltSettings{db: db}, nil
}

// Close releases the file lock.
func (s *BoltSettings) Close() error {
	return s.db.Close()
}

// Get returns the value for key, or "" when it was never set.
func (s *BoltSettings) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSettings).Get([]byte(key)); v != nil {
			value = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// Set writes a single setting.
func (s *BoltSettings) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany writes all values in one transaction.
func (s *BoltSettings) SetMany(values map[string]string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		for key, value := range values {
			if err := b.Put([]byte(key), []byte(value)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Delete removes a setting. Deleting a missing key is not an error.
func (s *BoltSettings) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (s *BoltSettings) All() (map[string]string, error) {
	values := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			values[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return values, nil
}
