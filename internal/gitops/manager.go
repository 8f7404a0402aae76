package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/store"
)

var (
	ErrNotRepository  = errors.New("path is not a git repository")
	ErrCommitNotFound = errors.New("commit not found")
	ErrMissingReason  = errors.New("revert reason is required")
	ErrDirtyTree      = errors.New("working tree has uncommitted changes")
)

// CommitOptions describes one fix commit.
type CommitOptions struct {
	Message     string
	Author      string
	AuthorEmail string
}

// CommitResult reports the outcome of a commit attempt. Success is false
// when there was nothing to commit or the VCS operation failed; Err carries
// the failure detail in that case.
type CommitResult struct {
	Success      bool
	Hash         string
	Message      string
	FilesChanged []store.FileChange
	LinesAdded   int
	LinesRemoved int
	DiffContent  string
	Err          string
}

// RevertOptions describes one revert. Reason is mandatory. When HardReset
// is true the revert discards history back to the commit's parent instead
// of recording a new inverse commit.
type RevertOptions struct {
	Hash      string
	Reason    string
	HardReset bool
}

// RevertResult reports a completed revert. RevertHash is set only when the
// revert was recorded as a new commit.
type RevertResult struct {
	Hash       string
	RevertHash string
	Reason     string
}

// Manager performs commit and revert operations on one repository
// working copy.
type Manager struct {
	repo   *git.Repository
	path   string
	logger *zap.Logger

	author      string
	authorEmail string
}

// Open opens the repository at path.
func Open(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return &Manager{
		repo:        repo,
		path:        path,
		logger:      logger,
		author:      "codesweep",
		authorEmail: "codesweep@localhost",
	}, nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (m *Manager) CurrentBranch() (string, error) {
	head, err := m.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// EnsureCleaningBranch creates the isolated fix branch at the current HEAD
// if it does not exist and checks it out. The working tree must be clean.
func (m *Manager) EnsureCleaningBranch(name string) error {
	wt, err := m.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	if !status.IsClean() {
		return ErrDirtyTree
	}

	ref := plumbing.NewBranchReferenceName(name)
	if _, err := m.repo.Reference(ref, false); err != nil {
		head, err := m.repo.Head()
		if err != nil {
			return fmt.Errorf("failed to read HEAD: %w", err)
		}
		if err := m.repo.Storer.SetReference(plumbing.NewHashReference(ref, head.Hash())); err != nil {
			return fmt.Errorf("failed to create branch %s: %w", name, err)
		}
		m.logger.Info("cleaning branch created", zap.String("branch", name))
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", name, err)
	}
	return nil
}

// Commit stages the whole working tree and records one fix commit. A clean
// tree or a failing VCS operation yields Success=false, never a panic.
func (m *Manager) Commit(ctx context.Context, opts CommitOptions) *CommitResult {
	if err := ctx.Err(); err != nil {
		return &CommitResult{Err: err.Error()}
	}

	wt, err := m.repo.Worktree()
	if err != nil {
		return &CommitResult{Err: fmt.Sprintf("failed to open worktree: %v", err)}
	}
	status, err := wt.Status()
	if err != nil {
		return &CommitResult{Err: fmt.Sprintf("failed to read status: %v", err)}
	}
	if status.IsClean() {
		return &CommitResult{Err: "nothing to commit"}
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return &CommitResult{Err: fmt.Sprintf("failed to stage changes: %v", err)}
	}

	author := opts.Author
	email := opts.AuthorEmail
	if author == "" {
		author = m.author
	}
	if email == "" {
		email = m.authorEmail
	}

	hash, err := wt.Commit(opts.Message, &git.CommitOptions{
		Author: &object.Signature{Name: author, Email: email, When: time.Now()},
	})
	if err != nil {
		return &CommitResult{Err: fmt.Sprintf("failed to commit: %v", err)}
	}

	result := &CommitResult{Success: true, Hash: hash.String(), Message: opts.Message}
	if stats, diff, err := m.describe(hash); err == nil {
		result.FilesChanged = stats
		result.DiffContent = diff
		for _, fc := range stats {
			result.LinesAdded += fc.LinesAdded
			result.LinesRemoved += fc.LinesRemoved
		}
	} else {
		m.logger.Warn("failed to describe commit", zap.String("hash", hash.String()), zap.Error(err))
	}

	m.logger.Info("fix committed",
		zap.String("hash", result.Hash),
		zap.Int("files", len(result.FilesChanged)))
	return result
}

// describe parses file stats and the textual diff of a commit against its
// first parent, or against the empty tree for a root commit.
func (m *Manager) describe(hash plumbing.Hash) ([]store.FileChange, string, error) {
	commit, err := m.repo.CommitObject(hash)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load commit: %w", err)
	}

	var parentTree *object.Tree
	if commit.NumParents() > 0 {
		parent, err := commit.Parent(0)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load parent: %w", err)
		}
		parentTree, err = parent.Tree()
		if err != nil {
			return nil, "", fmt.Errorf("failed to load parent tree: %w", err)
		}
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load tree: %w", err)
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, "", fmt.Errorf("failed to diff trees: %w", err)
	}
	patch, err := changes.Patch()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build patch: %w", err)
	}

	fileChanges := make([]store.FileChange, 0, len(patch.Stats()))
	for _, stat := range patch.Stats() {
		fileChanges = append(fileChanges, store.FileChange{
			Path:         stat.Name,
			LinesAdded:   stat.Addition,
			LinesRemoved: stat.Deletion,
		})
	}
	return fileChanges, patch.String(), nil
}

// Revert undoes a recorded commit. With HardReset it resets the branch to
// the commit's parent; otherwise it restores the parent's version of every
// changed file and records the restoration as a new commit, returning its
// hash. The reason is mandatory.
func (m *Manager) Revert(ctx context.Context, opts RevertOptions) (*RevertResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Reason) == "" {
		return nil, ErrMissingReason
	}

	hash := plumbing.NewHash(opts.Hash)
	commit, err := m.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, opts.Hash)
	}

	wt, err := m.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	if !status.IsClean() {
		return nil, ErrDirtyTree
	}

	if commit.NumParents() == 0 {
		return nil, fmt.Errorf("cannot revert root commit %s", opts.Hash)
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent: %w", err)
	}

	if opts.HardReset {
		if err := wt.Reset(&git.ResetOptions{Commit: parent.Hash, Mode: git.HardReset}); err != nil {
			return nil, fmt.Errorf("failed to hard reset: %w", err)
		}
		m.logger.Info("commit reverted by hard reset",
			zap.String("hash", opts.Hash), zap.String("reason", opts.Reason))
		return &RevertResult{Hash: opts.Hash, Reason: opts.Reason}, nil
	}

	if err := m.restoreParentFiles(commit, parent); err != nil {
		return nil, err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("failed to stage revert: %w", err)
	}

	message := fmt.Sprintf("Revert %s\n\n%s", opts.Hash[:minInt(12, len(opts.Hash))], opts.Reason)
	revertHash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: m.author, Email: m.authorEmail, When: time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit revert: %w", err)
	}

	m.logger.Info("commit reverted",
		zap.String("hash", opts.Hash),
		zap.String("revertHash", revertHash.String()),
		zap.String("reason", opts.Reason))
	return &RevertResult{Hash: opts.Hash, RevertHash: revertHash.String(), Reason: opts.Reason}, nil
}

// restoreParentFiles writes the parent's version of every file the commit
// touched back into the working tree, removing files the commit introduced.
func (m *Manager) restoreParentFiles(commit, parent *object.Commit) error {
	parentTree, err := parent.Tree()
	if err != nil {
		return fmt.Errorf("failed to load parent tree: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("failed to load tree: %w", err)
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return fmt.Errorf("failed to diff trees: %w", err)
	}
	patch, err := changes.Patch()
	if err != nil {
		return fmt.Errorf("failed to build patch: %w", err)
	}

	for _, stat := range patch.Stats() {
		abs := filepath.Join(m.path, stat.Name)
		file, err := parentTree.File(stat.Name)
		if err != nil {
			if errors.Is(err, object.ErrFileNotFound) {
				if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove %s: %w", stat.Name, err)
				}
				continue
			}
			return fmt.Errorf("failed to load %s from parent: %w", stat.Name, err)
		}
		content, err := file.Contents()
		if err != nil {
			return fmt.Errorf("failed to read %s from parent: %w", stat.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to restore %s: %w", stat.Name, err)
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
