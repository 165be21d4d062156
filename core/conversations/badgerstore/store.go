// Package badgerstore persists chat sessions in a Badger database.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/koscakluka/ema-stage/core/conversations"
)

const (
	sessionPrefix = "session/"
	messagePrefix = "message/"
)

type Store struct {
	db *badger.DB
	// writeMu serializes read-modify-write transactions on session metadata
	// so they never fail with a conflict.
	writeMu sync.Mutex
}

// Open opens (or creates) a store at path. An empty path keeps everything in
// memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func messageKey(sessionID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", messagePrefix, sessionID, seq))
}

func getSession(txn *badger.Txn, id string) (conversations.SessionInfo, bool, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return conversations.SessionInfo{}, false, nil
	} else if err != nil {
		return conversations.SessionInfo{}, false, err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return conversations.SessionInfo{}, false, err
	}
	var info conversations.SessionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return conversations.SessionInfo{}, false, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return info, true, nil
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

func (s *Store) updateSession(id string, fn func(txn *badger.Txn, info *conversations.SessionInfo) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		info, ok, err := getSession(txn, id)
		if err != nil {
			return err
		}
		if !ok {
			info = conversations.SessionInfo{ID: id, Title: conversations.DefaultTitle, CreatedAt: time.Now()}
		}
		if err := fn(txn, &info); err != nil {
			return err
		}
		return putJSON(txn, sessionKey(id), info)
	})
}

func (s *Store) Append(_ context.Context, sessionID string, msg conversations.Message) error {
	err := s.updateSession(sessionID, func(txn *badger.Txn, info *conversations.SessionInfo) error {
		seq := info.MessageCount
		conversations.ApplyAppend(info, msg, time.Now())
		return putJSON(txn, messageKey(sessionID, seq), msg)
	})
	if err != nil {
		return fmt.Errorf("failed to append message to %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Messages(_ context.Context, sessionID string) ([]conversations.Message, error) {
	prefix := []byte(messagePrefix + sessionID + "/")

	var messages []conversations.Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var msg conversations.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return fmt.Errorf("corrupt message %s: %w", it.Item().Key(), err)
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages of %s: %w", sessionID, err)
	}
	return messages, nil
}

func (s *Store) ConversationID(ctx context.Context, sessionID, engine string) (string, error) {
	info, _, err := s.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return info.ConversationIDs[engine], nil
}

func (s *Store) SetConversationID(_ context.Context, sessionID, engine, conversationID string) error {
	err := s.updateSession(sessionID, func(_ *badger.Txn, info *conversations.SessionInfo) error {
		if info.ConversationIDs == nil {
			info.ConversationIDs = map[string]string{}
		}
		info.ConversationIDs[engine] = conversationID
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store conversation id for %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Session(_ context.Context, sessionID string) (conversations.SessionInfo, bool, error) {
	var (
		info conversations.SessionInfo
		ok   bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		info, ok, err = getSession(txn, sessionID)
		return err
	})
	if err != nil {
		return conversations.SessionInfo{}, false, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return info, ok, nil
}

func (s *Store) Sessions(_ context.Context) ([]conversations.SessionInfo, error) {
	prefix := []byte(sessionPrefix)

	var infos []conversations.SessionInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var info conversations.SessionInfo
			if err := json.Unmarshal(raw, &info); err != nil {
				return fmt.Errorf("corrupt session %s: %w", it.Item().Key(), err)
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	conversations.SortSessions(infos)
	return infos, nil
}

var _ conversations.Store = (*Store)(nil)
