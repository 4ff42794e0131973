package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketRoots      = []byte("roots")       // sub-bucket per repo, key = big-endian version
	bucketLatestMeta = []byte("latest_meta") // key = repo/role
	bucketHistory    = []byte("history")     // key = big-endian sequence number
	bucketIdentity   = []byte("identity")    // ecu_serial, private_key
)

// BoltStore is the bbolt-backed Store implementation.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and
// ensures every top-level bucket this package needs exists.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: opening bbolt db %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRoots, bucketLatestMeta, bucketHistory, bucketIdentity} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: initializing buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func versionKey(version int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(version))
	return buf
}

func (s *BoltStore) SaveRoot(repo Repo, version int, raw []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketRoots)
		repoBucket, err := root.CreateBucketIfNotExists([]byte(repo))
		if err != nil {
			return err
		}
		return repoBucket.Put(versionKey(version), raw)
	})
}

func (s *BoltStore) LoadRoot(repo Repo, version int) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketRoots)
		repoBucket := root.Bucket([]byte(repo))
		if repoBucket == nil {
			return ErrNotFound
		}
		v := repoBucket.Get(versionKey(version))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) LatestRootVersion(repo Repo) (int, error) {
	var latest int
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketRoots)
		repoBucket := root.Bucket([]byte(repo))
		if repoBucket == nil {
			return nil
		}
		c := repoBucket.Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		latest = int(binary.BigEndian.Uint64(k))
		return nil
	})
	return latest, err
}

func metaKey(repo Repo, role Role) []byte {
	return []byte(string(repo) + "/" + string(role))
}

func (s *BoltStore) SaveLatestMeta(repo Repo, role Role, raw []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLatestMeta).Put(metaKey(repo, role), raw)
	})
}

func (s *BoltStore) LoadLatestMeta(repo Repo, role Role) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketLatestMeta).Get(metaKey(repo, role))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func encodeInstalledVersion(v InstalledVersion) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("store: encoding installed version: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeInstalledVersion(raw []byte) (InstalledVersion, error) {
	var v InstalledVersion
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		return InstalledVersion{}, fmt.Errorf("store: decoding installed version: %w", err)
	}
	return v, nil
}

func (s *BoltStore) RecordPending(v InstalledVersion) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		h := tx.Bucket(bucketHistory)
		if err := h.ForEach(func(_, val []byte) error {
			existing, err := decodeInstalledVersion(val)
			if err != nil {
				return err
			}
			if existing.Pending {
				return ErrPendingExists
			}
			return nil
		}); err != nil {
			return err
		}

		v.Pending = true
		v.Current = false
		encoded, err := encodeInstalledVersion(v)
		if err != nil {
			return err
		}
		seq, err := h.NextSequence()
		if err != nil {
			return err
		}
		return h.Put(versionKey(int(seq)), encoded)
	})
}

func (s *BoltStore) PromotePendingToCurrent(result InstallationResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		h := tx.Bucket(bucketHistory)
		var pendingKey []byte
		var pending InstalledVersion
		found := false

		c := h.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entry, err := decodeInstalledVersion(v)
			if err != nil {
				return err
			}
			if entry.Current {
				entry.Current = false
				encoded, err := encodeInstalledVersion(entry)
				if err != nil {
					return err
				}
				if err := h.Put(k, encoded); err != nil {
					return err
				}
			}
			if entry.Pending {
				pendingKey = append([]byte(nil), k...)
				pending = entry
				found = true
			}
		}

		if !found {
			return fmt.Errorf("store: no pending install to promote")
		}

		pending.Pending = false
		pending.Current = true
		pending.Result = result
		pending.InstalledAt = time.Now()
		encoded, err := encodeInstalledVersion(pending)
		if err != nil {
			return err
		}
		return h.Put(pendingKey, encoded)
	})
}

func (s *BoltStore) DropPending() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		h := tx.Bucket(bucketHistory)
		var toDelete []byte
		c := h.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entry, err := decodeInstalledVersion(v)
			if err != nil {
				return err
			}
			if entry.Pending {
				toDelete = append([]byte(nil), k...)
				break
			}
		}
		if toDelete == nil {
			return nil
		}
		return h.Delete(toDelete)
	})
}

func (s *BoltStore) Current() (InstalledVersion, error) {
	var out InstalledVersion
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(_, v []byte) error {
			entry, err := decodeInstalledVersion(v)
			if err != nil {
				return err
			}
			if entry.Current {
				out = entry
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return InstalledVersion{}, err
	}
	if !found {
		return InstalledVersion{}, ErrNotFound
	}
	return out, nil
}

func (s *BoltStore) Pending() (InstalledVersion, bool, error) {
	var out InstalledVersion
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(_, v []byte) error {
			entry, err := decodeInstalledVersion(v)
			if err != nil {
				return err
			}
			if entry.Pending {
				out = entry
				found = true
			}
			return nil
		})
	})
	return out, found, err
}

func (s *BoltStore) History() ([]InstalledVersion, error) {
	var out []InstalledVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(_, v []byte) error {
			entry, err := decodeInstalledVersion(v)
			if err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) SaveECUSerial(serial string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put([]byte("ecu_serial"), []byte(serial))
	})
}

func (s *BoltStore) LoadECUSerial() (string, error) {
	var out string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketIdentity).Get([]byte("ecu_serial"))
		if v == nil {
			return ErrNotFound
		}
		out = string(v)
		return nil
	})
	return out, err
}

func (s *BoltStore) SavePrivateKey(pemBytes []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put([]byte("private_key"), pemBytes)
	})
}

func (s *BoltStore) LoadPrivateKey() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketIdentity).Get([]byte("private_key"))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

var _ Store = (*BoltStore)(nil)
