package chatstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the ISO-8601 shape the dashboard has always written
// to disk; keeping it means old and new files sort identically.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

const legacyTitle = "Legacy Chat"

var ErrSessionNotFound = errors.New("chat session not found")

type Message struct {
	Role      string `json:"role"` // "user" or "model"
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// SessionMeta is a Session without its message log, as returned by
// ListSessions.
type SessionMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type storeFile struct {
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
}

// Store persists chat sessions in a single JSON document. Every
// mutation re-reads the whole file, updates it in memory, and rewrites
// it, so a store-wide mutex serializes all writers (the same
// discipline as a single-writer sqlite file). Reads go straight to
// disk without the lock; the rename-based rewrite keeps them from ever
// seeing a torn file.
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimeLayout)
}

// parse reads the backing file. A missing file is an empty store. A
// bare JSON array is the pre-sessions format: it is wrapped into a
// single synthesized session, and the second return value reports that
// the on-disk shape still needs upgrading.
func (s *Store) parse() (*storeFile, bool, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &storeFile{Version: 1}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading chat history: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(raw, &file); err == nil && file.Version == 1 {
		return &file, false, nil
	}

	var legacy []Message
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, false, fmt.Errorf("parsing chat history %s: %w", s.path, err)
	}

	now := s.timestamp()
	created, updated := now, now
	if len(legacy) > 0 {
		if ts := legacy[0].Timestamp; ts != "" {
			created = ts
		}
		if ts := legacy[len(legacy)-1].Timestamp; ts != "" {
			updated = ts
		}
	}
	upgraded := &storeFile{
		Version: 1,
		Sessions: []Session{{
			ID:        uuid.NewString(),
			Title:     legacyTitle,
			CreatedAt: created,
			UpdatedAt: updated,
			Messages:  legacy,
		}},
	}
	return upgraded, true, nil
}

func (s *Store) persist(file *storeFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating chat history directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding chat history: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing chat history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("writing chat history: %w", err)
	}
	return nil
}

// loadForRead returns the current store contents without joining the
// writer queue. If it finds the legacy flat-array format it upgrades
// the file in place first, under the write lock, so the synthesized
// session keeps the same id on every subsequent read.
func (s *Store) loadForRead() (*storeFile, error) {
	file, legacy, err := s.parse()
	if err != nil {
		return nil, err
	}
	if !legacy {
		return file, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another writer may have upgraded the file while we waited.
	file, legacy, err = s.parse()
	if err != nil {
		return nil, err
	}
	if legacy {
		if err := s.persist(file); err != nil {
			return nil, err
		}
	}
	return file, nil
}

// update runs one read-modify-write cycle under the store lock.
func (s *Store) update(mutate func(file *storeFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, _, err := s.parse()
	if err != nil {
		return err
	}
	if err := mutate(file); err != nil {
		return err
	}
	return s.persist(file)
}

func sortByUpdatedDesc(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt > sessions[j].UpdatedAt
	})
}

// ListSessions returns session metadata, most recently updated first.
func (s *Store) ListSessions() ([]SessionMeta, error) {
	file, err := s.loadForRead()
	if err != nil {
		return nil, err
	}

	sortByUpdatedDesc(file.Sessions)
	metas := make([]SessionMeta, 0, len(file.Sessions))
	for _, session := range file.Sessions {
		metas = append(metas, SessionMeta{
			ID:        session.ID,
			Title:     session.Title,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		})
	}
	return metas, nil
}

// CreateSession creates an empty session and inserts it at the head of
// the collection.
func (s *Store) CreateSession(title string) (SessionMeta, error) {
	var meta SessionMeta
	err := s.update(func(file *storeFile) error {
		now := s.timestamp()
		session := Session{
			ID:        uuid.NewString(),
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []Message{},
		}
		file.Sessions = append([]Session{session}, file.Sessions...)
		meta = SessionMeta{ID: session.ID, Title: session.Title, CreatedAt: now, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return SessionMeta{}, err
	}
	return meta, nil
}

// SessionMessages returns the message log for a session. An unknown id
// yields an empty log, not an error; callers that care distinguish the
// two themselves.
func (s *Store) SessionMessages(id string) ([]Message, error) {
	file, err := s.loadForRead()
	if err != nil {
		return nil, err
	}
	for _, session := range file.Sessions {
		if session.ID == id {
			return session.Messages, nil
		}
	}
	return []Message{}, nil
}

// Append adds messages to a session in order and bumps its updatedAt.
func (s *Store) Append(id string, messages []Message) error {
	return s.update(func(file *storeFile) error {
		for i := range file.Sessions {
			if file.Sessions[i].ID != id {
				continue
			}
			file.Sessions[i].Messages = append(file.Sessions[i].Messages, messages...)
			file.Sessions[i].UpdatedAt = s.timestamp()
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	})
}

func (s *Store) Rename(id, title string) error {
	return s.update(func(file *storeFile) error {
		for i := range file.Sessions {
			if file.Sessions[i].ID != id {
				continue
			}
			file.Sessions[i].Title = title
			file.Sessions[i].UpdatedAt = s.timestamp()
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	})
}

// Delete removes a session. Deleting an absent id is a no-op.
func (s *Store) Delete(id string) error {
	return s.update(func(file *storeFile) error {
		kept := file.Sessions[:0]
		for _, session := range file.Sessions {
			if session.ID != id {
				kept = append(kept, session)
			}
		}
		file.Sessions = kept
		return nil
	})
}

// History returns the most recently updated session's messages. It is
// the read half of the single-conversation surface older UI builds
// use.
func (s *Store) History() ([]Message, error) {
	file, err := s.loadForRead()
	if err != nil {
		return nil, err
	}
	if len(file.Sessions) == 0 {
		return []Message{}, nil
	}
	sortByUpdatedDesc(file.Sessions)
	return file.Sessions[0].Messages, nil
}

// AppendHistory appends to the most recently updated session, creating
// one if the store is empty.
func (s *Store) AppendHistory(messages []Message) error {
	return s.update(func(file *storeFile) error {
		now := s.timestamp()
		if len(file.Sessions) == 0 {
			file.Sessions = []Session{{
				ID:        uuid.NewString(),
				Title:     "New Chat",
				CreatedAt: now,
				UpdatedAt: now,
				Messages:  messages,
			}}
			return nil
		}
		latest := 0
		for i := range file.Sessions {
			if file.Sessions[i].UpdatedAt > file.Sessions[latest].UpdatedAt {
				latest = i
			}
		}
		file.Sessions[latest].Messages = append(file.Sessions[latest].Messages, messages...)
		file.Sessions[latest].UpdatedAt = now
		return nil
	})
}

// Clear replaces the store with an empty session list.
func (s *Store) Clear() error {
	return s.update(func(file *storeFile) error {
		file.Sessions = []Session{}
		return nil
	})
}
