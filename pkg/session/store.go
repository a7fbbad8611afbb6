package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenGroups   = 3
	tokenGroupLen = 4
)

// Store maps stable user identifiers to conversation tokens.
//
// The in-memory map is the source of truth for the running process; every
// mutation is written through to a JSON file for best-effort durability
// across restarts. All operations are serialized behind one mutex, so
// concurrent GetOrCreate calls for the same user can never generate
// two different tokens.
type Store struct {
	mu     sync.Mutex
	path   string
	tokens map[string]string
	log    *slog.Logger
}

// Open loads the store from path, starting fresh when the file is missing
// or unreadable.
func Open(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("session store path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	store := &Store{
		path:   path,
		tokens: make(map[string]string),
		log:    log.With("component", "session.store"),
	}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		store.log.Warn("Failed to read session store, starting fresh", "path", path, "error", err)
		return store, nil
	}
	if err := json.Unmarshal(content, &store.tokens); err != nil {
		store.log.Warn("Failed to parse session store, starting fresh", "path", path, "error", err)
		store.tokens = make(map[string]string)
	}

	return store, nil
}

// GetOrCreate returns the user's token, generating and persisting a new one
// when no mapping exists.
func (s *Store) GetOrCreate(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.tokens[userID]; ok {
		return token
	}

	token := NewToken()
	s.tokens[userID] = token
	s.persistLocked()
	return token
}

// ForceNew unconditionally assigns the user a fresh token, overwriting any
// prior mapping. This is the effect of a "start a new conversation" command.
func (s *Store) ForceNew(userID string) string {
	token := NewToken()
	s.Set(userID, token)
	return token
}

// Set stores an explicit token for the user.
func (s *Store) Set(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[userID] = token
	s.persistLocked()
}

// Len reports the number of stored mappings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// persistLocked rewrites the whole store file. A failed write is logged but
// never rolls back the in-memory mapping.
//
// The write goes through a temp file plus rename so a crash mid-write cannot
// truncate the previous snapshot, and so concurrent mutators (already
// serialized by the mutex) never interleave partial JSON.
func (s *Store) persistLocked() {
	content, err := json.Marshal(s.tokens)
	if err != nil {
		s.log.Error("Failed to encode session store", "error", err)
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		s.log.Error("Failed to create session store temp file", "path", s.path, "error", err)
		return
	}

	_, writeErr := tmp.Write(content)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		s.log.Error("Failed to write session store", "path", s.path, "write_error", writeErr, "close_error", closeErr)
		return
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		s.log.Error("Failed to replace session store", "path", s.path, "error", err)
	}
}

// NewToken generates a conversation token like "A1B2-C3D4-E5F6" from a
// uniform random source. Collisions are accepted as negligible.
func NewToken() string {
	raw := make([]byte, tokenGroups*tokenGroupLen)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("session: read random source: %v", err))
	}

	out := make([]byte, 0, tokenGroups*tokenGroupLen+tokenGroups-1)
	for i, b := range raw {
		if i > 0 && i%tokenGroupLen == 0 {
			out = append(out, '-')
		}
		out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
	}
	return string(out)
}
