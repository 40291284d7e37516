package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.shelfsync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// Metadata keys stored alongside each domain's collection.
const (
	KeyLastLocalEdit = "lastLocalEdit"
	KeyLastSync      = "lastSync"
	KeyDirty         = "dirty"
)

var (
	appBucket    = []byte("app")
	tokenKey     = []byte("token")
	sharesBucket = []byte("shares")
	itemsKey     = []byte("items")
)

func domainBucket(d models.Domain) []byte {
	return []byte("domain:" + string(d))
}

func backupsBucket(d models.Domain) []byte {
	return []byte("domain:" + string(d) + ":backups")
}

// State wraps a bbolt database holding the local replica of every sync
// domain, its sync metadata, backups, tracked shares and the cached
// remote credential.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.shelfsync/state.db, creating it
// if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Buckets for every known domain are created on open.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, sharesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		for _, d := range models.Domains() {
			if _, err := tx.CreateBucketIfNotExists(domainBucket(d)); err != nil {
				return err
			}

			if _, err := tx.CreateBucketIfNotExists(backupsBucket(d)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Token returns the cached remote storage credential, or empty string.
func (s *State) Token() string {
	var token string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(tokenKey)
		if v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetToken persists the remote storage credential.
func (s *State) SetToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(tokenKey, []byte(token))
	})
}

func bucketFor(tx *bolt.Tx, name []byte, d models.Domain) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownDomain, d)
	}

	return b, nil
}

// ReadCollection returns the replica's items for a domain. An empty
// replica returns an empty, non-nil slice.
func (s *State) ReadCollection(d models.Domain) ([]models.Item, error) {
	items := []models.Item{}

	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, domainBucket(d), d)
		if err != nil {
			return err
		}

		v := b.Get(itemsKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &items)
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// WriteCollection replaces the replica's items and records timestamp as
// the last local edit, in one transaction.
func (s *State) WriteCollection(d models.Domain, items []models.Item, timestamp string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, domainBucket(d), d)
		if err != nil {
			return err
		}

		if err := putItems(b, items); err != nil {
			return err
		}

		return b.Put([]byte(KeyLastLocalEdit), []byte(timestamp))
	})
}

// CommitSync records a successful sync: the replica becomes items, the
// last local edit becomes editTS, the last sync becomes syncTS and the
// dirty flag is cleared. All four writes land in one transaction.
func (s *State) CommitSync(d models.Domain, items []models.Item, editTS, syncTS string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, domainBucket(d), d)
		if err != nil {
			return err
		}

		if err := putItems(b, items); err != nil {
			return err
		}

		if err := b.Put([]byte(KeyLastLocalEdit), []byte(editTS)); err != nil {
			return err
		}

		if err := b.Put([]byte(KeyLastSync), []byte(syncTS)); err != nil {
			return err
		}

		return b.Put([]byte(KeyDirty), flagValue(false))
	})
}

func putItems(b *bolt.Bucket, items []models.Item) error {
	if items == nil {
		items = []models.Item{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding items: %w", err)
	}

	return b.Put(itemsKey, data)
}

// ReadFlag returns a boolean metadata value. Unset flags are false.
func (s *State) ReadFlag(d models.Domain, key string) (bool, error) {
	var on bool

	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, domainBucket(d), d)
		if err != nil {
			return err
		}

		on = string(b.Get([]byte(key))) == "1"

		return nil
	})

	return on, err
}

// WriteFlag sets a boolean metadata value.
func (s *State) WriteFlag(d models.Domain, key string, on bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, domainBucket(d), d)
		if err != nil {
			return err
		}

		return b.Put([]byte(key), flagValue(on))
	})
}

func flagValue(on bool) []byte {
	if on {
		return []byte("1")
	}

	return []byte("0")
}

// ReadTimestamp returns a timestamp metadata value, or empty string.
func (s *State) ReadTimestamp(d models.Domain, key string) (string, error) {
	var ts string

	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, domainBucket(d), d)
		if err != nil {
			return err
		}

		ts = string(b.Get([]byte(key)))

		return nil
	})

	return ts, err
}

// WriteTimestamp sets a timestamp metadata value.
func (s *State) WriteTimestamp(d models.Domain, key, ts string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, domainBucket(d), d)
		if err != nil {
			return err
		}

		return b.Put([]byte(key), []byte(ts))
	})
}

// AddBackup appends a backup to the domain's ring buffer, evicting the
// oldest entries so that at most limit remain.
func (s *State) AddBackup(d models.Domain, backup models.Backup, limit int) error {
	if limit < 1 {
		return fmt.Errorf("backup limit must be at least 1, got %d", limit)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, backupsBucket(d), d)
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(backup)
		if err != nil {
			return fmt.Errorf("encoding backup: %w", err)
		}

		if err := b.Put(sequenceKey(seq), data); err != nil {
			return err
		}

		count := 0

		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}

		excess := count - limit
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}

			excess--
		}

		return nil
	})
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}

// Backups returns the domain's backups, oldest first.
func (s *State) Backups(d models.Domain) ([]models.Backup, error) {
	var backups []models.Backup

	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, backupsBucket(d), d)
		if err != nil {
			return err
		}

		return b.ForEach(func(k, v []byte) error {
			var bk models.Backup
			if err := json.Unmarshal(v, &bk); err != nil {
				return err
			}

			backups = append(backups, bk)

			return nil
		})
	})

	return backups, err
}

// Backup returns a backup by ID, or nil if not found.
func (s *State) Backup(d models.Domain, id string) (*models.Backup, error) {
	backups, err := s.Backups(d)
	if err != nil {
		return nil, err
	}

	for i := range backups {
		if backups[i].ID == id {
			return &backups[i], nil
		}
	}

	return nil, nil
}

// SaveShare persists a tracked share.
func (s *State) SaveShare(sh models.Share) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sh)
		if err != nil {
			return err
		}

		return tx.Bucket(sharesBucket).Put([]byte(sh.ID), data)
	})
}

// DeleteShare removes a tracked share.
func (s *State) DeleteShare(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sharesBucket).Delete([]byte(id))
	})
}

// AllShares returns every tracked share, ordered by ID.
func (s *State) AllShares() ([]models.Share, error) {
	var shares []models.Share

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sharesBucket).ForEach(func(k, v []byte) error {
			var sh models.Share
			if err := json.Unmarshal(v, &sh); err != nil {
				return err
			}

			shares = append(shares, sh)

			return nil
		})
	})

	return shares, err
}

// DefaultPath returns ~/.shelfsync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".shelfsync", "state.db"), nil
}
