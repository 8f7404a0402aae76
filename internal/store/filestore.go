package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/session"
)

// sessionState is the persisted per-session structure.
type sessionState struct {
	Version int              `json:"version"`
	Session *session.Session `json:"session"`
	Issues  []*issue.Issue   `json:"issues"`
	Commits []*Commit        `json:"commits"`
}

// FileStore persists sessions as JSON files under a base directory, one file
// per session. Writes are serialized per session id and performed atomically
// (write to temp file, then rename).
type FileStore struct {
	basePath string

	mu    sync.RWMutex
	locks map[string]*sync.Mutex
	cache map[string]*sessionState
}

// NewFileStore creates a file store rooted at basePath. If basePath is
// empty, ~/.config/codesweep/sessions is used.
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		basePath = filepath.Join(home, ".config", "codesweep", "sessions")
	}

	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &FileStore{
		basePath: basePath,
		locks:    make(map[string]*sync.Mutex),
		cache:    make(map[string]*sessionState),
	}, nil
}

// sessionLock returns the per-session write lock, creating it on first use.
func (fs *FileStore) sessionLock(sessionID string) *sync.Mutex {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	lock, ok := fs.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		fs.locks[sessionID] = lock
	}
	return lock
}

func (fs *FileStore) sessionFile(sessionID string) string {
	return filepath.Join(fs.basePath, sessionID+".json")
}

// loadState returns the cached state for a session, reading it from disk on
// first access. Callers must hold the session lock for writes.
func (fs *FileStore) loadState(sessionID string) (*sessionState, error) {
	fs.mu.RLock()
	state, ok := fs.cache[sessionID]
	fs.mu.RUnlock()
	if ok {
		return state, nil
	}

	data, err := os.ReadFile(fs.sessionFile(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("session file corrupted: %w", err)
	}

	fs.mu.Lock()
	fs.cache[sessionID] = &st
	fs.mu.Unlock()
	return &st, nil
}

// save writes a session state to disk atomically.
func (fs *FileStore) save(state *sessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	path := fs.sessionFile(state.Session.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename session state: %w", err)
	}

	fs.mu.Lock()
	fs.cache[state.Session.ID] = state
	fs.mu.Unlock()
	return nil
}

// CreateSession persists a new session.
func (fs *FileStore) CreateSession(ctx context.Context, s *session.Session) error {
	lock := fs.sessionLock(s.ID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(fs.sessionFile(s.ID)); err == nil {
		return fmt.Errorf("%w: session %s", ErrDuplicateID, s.ID)
	}

	return fs.save(&sessionState{Version: 1, Session: s})
}

// UpdateSession persists session changes.
func (fs *FileStore) UpdateSession(ctx context.Context, s *session.Session) error {
	lock := fs.sessionLock(s.ID)
	lock.Lock()
	defer lock.Unlock()

	state, err := fs.loadState(s.ID)
	if err != nil {
		return err
	}
	state.Session = s
	return fs.save(state)
}

// GetSession retrieves a session by id.
func (fs *FileStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	state, err := fs.loadState(id)
	if err != nil {
		return nil, err
	}
	return state.Session, nil
}

// CreateIssue appends an issue to its session.
func (fs *FileStore) CreateIssue(ctx context.Context, i *issue.Issue) error {
	lock := fs.sessionLock(i.SessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := fs.loadState(i.SessionID)
	if err != nil {
		return err
	}
	for _, existing := range state.Issues {
		if existing.ID == i.ID {
			return fmt.Errorf("%w: issue %s", ErrDuplicateID, i.ID)
		}
	}
	state.Issues = append(state.Issues, i)
	return fs.save(state)
}

// UpdateIssue persists issue changes.
func (fs *FileStore) UpdateIssue(ctx context.Context, i *issue.Issue) error {
	lock := fs.sessionLock(i.SessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := fs.loadState(i.SessionID)
	if err != nil {
		return err
	}
	for n, existing := range state.Issues {
		if existing.ID == i.ID {
			state.Issues[n] = i
			return fs.save(state)
		}
	}
	return fmt.Errorf("%w: %s", ErrIssueNotFound, i.ID)
}

// ListIssues returns issues matching the filter.
func (fs *FileStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*issue.Issue, error) {
	if filter.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	state, err := fs.loadState(filter.SessionID)
	if err != nil {
		return nil, err
	}

	var out []*issue.Issue
	for _, i := range state.Issues {
		if filter.Status != "" && i.Status != filter.Status {
			continue
		}
		if filter.Type != "" && i.Type != filter.Type {
			continue
		}
		if filter.FilePath != "" && i.FilePath != filter.FilePath {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

// CreateCommit appends a commit record to its session.
func (fs *FileStore) CreateCommit(ctx context.Context, c *Commit) error {
	lock := fs.sessionLock(c.SessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := fs.loadState(c.SessionID)
	if err != nil {
		return err
	}
	for _, existing := range state.Commits {
		if existing.ID == c.ID {
			return fmt.Errorf("%w: commit %s", ErrDuplicateID, c.ID)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	state.Commits = append(state.Commits, c)
	return fs.save(state)
}

// MarkReverted flags a commit as reverted. The reason is mandatory; the
// revert hash is set only when the revert was performed as a new commit.
func (fs *FileStore) MarkReverted(ctx context.Context, commitID, revertHash, reason string) error {
	if reason == "" {
		return ErrRevertReason
	}

	// The commit id is unique across sessions but the caller does not pass
	// the session id, so locate it through the cache and disk.
	fs.mu.RLock()
	var target *sessionState
	for _, state := range fs.cache {
		for _, c := range state.Commits {
			if c.ID == commitID {
				target = state
				break
			}
		}
	}
	fs.mu.RUnlock()

	if target == nil {
		if err := fs.loadAll(); err != nil {
			return err
		}
		fs.mu.RLock()
		for _, state := range fs.cache {
			for _, c := range state.Commits {
				if c.ID == commitID {
					target = state
					break
				}
			}
		}
		fs.mu.RUnlock()
	}

	if target == nil {
		return fmt.Errorf("%w: %s", ErrCommitNotFound, commitID)
	}

	lock := fs.sessionLock(target.Session.ID)
	lock.Lock()
	defer lock.Unlock()

	for _, c := range target.Commits {
		if c.ID == commitID {
			c.Reverted = true
			c.RevertReason = reason
			c.RevertHash = revertHash
			c.RevertedAt = time.Now().UTC()
			return fs.save(target)
		}
	}
	return fmt.Errorf("%w: %s", ErrCommitNotFound, commitID)
}

// ListCommits returns all commit records for a session, oldest first.
func (fs *FileStore) ListCommits(ctx context.Context, sessionID string) ([]*Commit, error) {
	state, err := fs.loadState(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*Commit, len(state.Commits))
	copy(out, state.Commits)
	return out, nil
}

// loadAll reads every session file under the base path into the cache.
func (fs *FileStore) loadAll() error {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return fmt.Errorf("failed to read store directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		id := name[:len(name)-len(".json")]
		if _, err := fs.loadState(id); err != nil {
			// Skip corrupted siblings; they are surfaced on direct access.
			continue
		}
	}
	return nil
}

var _ Store = (*FileStore)(nil)
