package badger

// Package badger provides embedded key-value storage using BadgerDB.
// Holds users and their history with background garbage collection.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	prefixUser      = "user:"
	prefixUserEmail = "user_email:"
	prefixUserName  = "user_name:"
	prefixHistory   = "history:"

	seqUsers   = "seq:users"
	seqHistory = "seq:history"
)

// DB represents BadgerDB storage
type DB struct {
	db         *badgerdb.DB
	path       string
	userSeq    *badgerdb.Sequence
	historySeq *badgerdb.Sequence
}

// NewDB creates a new BadgerDB instance
func NewDB(path string) (*DB, error) {
	opts := badgerdb.DefaultOptions(path)
	opts.Logger = nil // Disable badger's internal logging (use our zerolog)

	opts.ValueLogFileSize = 64 << 20 // 64MB value log files
	opts.NumVersionsToKeep = 1
	opts.CompactL0OnClose = true

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	userSeq, err := db.GetSequence([]byte(seqUsers), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open user sequence: %w", err)
	}
	historySeq, err := db.GetSequence([]byte(seqHistory), 1000)
	if err != nil {
		_ = userSeq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to open history sequence: %w", err)
	}

	log.Info().
		Str("path", path).
		Msg("BadgerDB initialized")

	return &DB{
		db:         db,
		path:       path,
		userSeq:    userSeq,
		historySeq: historySeq,
	}, nil
}

// Close releases sequences and closes the database
func (d *DB) Close() error {
	log.Info().Msg("Closing BadgerDB")
	if err := d.userSeq.Release(); err != nil {
		log.Warn().Err(err).Msg("Failed to release user sequence")
	}
	if err := d.historySeq.Release(); err != nil {
		log.Warn().Err(err).Msg("Failed to release history sequence")
	}
	return d.db.Close()
}

// Ping reports whether the database is open
func (d *DB) Ping(_ context.Context) error {
	if d.db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return nil
}

func userKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixUser, id))
}

func emailKey(email string) []byte {
	return []byte(prefixUserEmail + strings.ToLower(email))
}

func nameKey(username string) []byte {
	return []byte(prefixUserName + username)
}

func historyPrefix(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixHistory, userID))
}

func historyKey(userID, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixHistory, userID, id))
}

func nextID(seq *badgerdb.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// sequences start at zero
	return int64(n) + 1, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// USER OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// CreateUser stores a new user and returns its id
func (d *DB) CreateUser(_ context.Context, user *types.User) (int64, error) {
	id, err := nextID(d.userSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate user id: %w", err)
	}

	stored := *user
	stored.ID = id
	if stored.Role == "" {
		stored.Role = types.DefaultRole
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal user: %w", err)
	}
	idValue := []byte(strconv.FormatInt(id, 10))

	err = d.db.Update(func(txn *badgerdb.Txn) error {
		if exists(txn, emailKey(stored.Email)) {
			return types.ErrEmailTaken
		}
		if exists(txn, nameKey(stored.Username)) {
			return types.ErrUsernameTaken
		}
		if err := txn.Set(userKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(emailKey(stored.Email), idValue); err != nil {
			return err
		}
		return txn.Set(nameKey(stored.Username), idValue)
	})
	if errors.Is(err, types.ErrEmailTaken) || errors.Is(err, types.ErrUsernameTaken) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save user: %w", err)
	}

	log.Debug().
		Int64("id", id).
		Str("username", stored.Username).
		Msg("User saved to BadgerDB")

	return id, nil
}

// GetUserByID retrieves a user by id
func (d *DB) GetUserByID(_ context.Context, id int64) (*types.User, error) {
	var user types.User
	err := d.db.View(func(txn *badgerdb.Txn) error {
		return getJSON(txn, userKey(id), &user)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("user %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (d *DB) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	var user types.User
	err := d.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(emailKey(email))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt email index: %w", err)
		}
		return getJSON(txn, userKey(id), &user)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("user %q: %w", email, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// DeleteUser removes a user together with all of their history
func (d *DB) DeleteUser(_ context.Context, id int64) error {
	removed := 0
	err := d.db.Update(func(txn *badgerdb.Txn) error {
		var user types.User
		if err := getJSON(txn, userKey(id), &user); err != nil {
			return err
		}

		keys := collectKeys(txn, historyPrefix(id))
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)

		if err := txn.Delete(emailKey(user.Email)); err != nil {
			return err
		}
		if err := txn.Delete(nameKey(user.Username)); err != nil {
			return err
		}
		return txn.Delete(userKey(id))
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return fmt.Errorf("user %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	log.Debug().
		Int64("id", id).
		Int("history_removed", removed).
		Msg("User deleted from BadgerDB")

	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORY OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Append saves a history record for an existing user
func (d *DB) Append(_ context.Context, rec *types.HistoryRecord) (int64, error) {
	id, err := nextID(d.historySeq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate history id: %w", err)
	}

	stored := *rec
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal history record: %w", err)
	}

	err = d.db.Update(func(txn *badgerdb.Txn) error {
		if !exists(txn, userKey(stored.UserID)) {
			return fmt.Errorf("user %d: %w", stored.UserID, types.ErrNotFound)
		}
		return txn.Set(historyKey(stored.UserID, id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save history record: %w", err)
	}

	return id, nil
}

// List returns the user's records newest first
func (d *DB) List(_ context.Context, userID int64, filter types.ListFilter) ([]*types.HistoryRecord, error) {
	keyword := strings.ToLower(filter.Keyword)
	records := make([]*types.HistoryRecord, 0)

	err := d.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = historyPrefix(userID)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec types.HistoryRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}

			if filter.ItemType != "" && rec.ItemType != filter.ItemType {
				continue
			}
			if keyword != "" && !strings.Contains(strings.ToLower(rec.Query), keyword) {
				continue
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})

	log.Debug().
		Int64("user_id", userID).
		Int("count", len(records)).
		Msg("Listed history from BadgerDB")

	return records, nil
}

// Get retrieves one record owned by userID
func (d *DB) Get(_ context.Context, userID, id int64) (*types.HistoryRecord, error) {
	var rec types.HistoryRecord
	err := d.db.View(func(txn *badgerdb.Txn) error {
		return getJSON(txn, historyKey(userID, id), &rec)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("history %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	return &rec, nil
}

// Delete removes one record owned by userID
func (d *DB) Delete(_ context.Context, userID, id int64) error {
	key := historyKey(userID, id)
	err := d.db.Update(func(txn *badgerdb.Txn) error {
		if !exists(txn, key) {
			return badgerdb.ErrKeyNotFound
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return fmt.Errorf("history %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete history record: %w", err)
	}
	return nil
}

func exists(txn *badgerdb.Txn, key []byte) bool {
	_, err := txn.Get(key)
	return err == nil
}

func getJSON(txn *badgerdb.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func collectKeys(txn *badgerdb.Txn, prefix []byte) [][]byte {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// ═══════════════════════════════════════════════════════════════════════════════
// UTILITIES
// ═══════════════════════════════════════════════════════════════════════════════

// GetStats returns database statistics
func (d *DB) GetStats() map[string]interface{} {
	lsm, vlog := d.db.Size()

	return map[string]interface{}{
		"driver":     "badger",
		"path":       d.path,
		"lsm_size":   lsm,
		"vlog_size":  vlog,
		"total_size": lsm + vlog,
	}
}

// RunGC triggers value log garbage collection
func (d *DB) RunGC() error {
	log.Debug().Msg("Running BadgerDB GC")

	err := d.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		return fmt.Errorf("gc failed: %w", err)
	}

	return nil
}

// StartGC runs RunGC every interval until ctx is done
func (d *DB) StartGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.RunGC(); err != nil {
					log.Warn().Err(err).Msg("BadgerDB GC failed")
				}
			}
		}
	}()
}
