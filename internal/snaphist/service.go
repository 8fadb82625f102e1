// Package snaphist keeps an audit trail of persisted snapshots: every
// accepted snapshot save is committed to a per-document git repository, so
// a document's collaborative state can be inspected or recovered at any
// point in its history.
package snaphist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	snapshotFile = "snapshot.bin"
	metaFile     = "meta.json"
)

// meta travels alongside the snapshot blob in each commit.
type meta struct {
	Title   string    `json:"title"`
	Size    int       `json:"size"`
	SavedAt time.Time `json:"savedAt"`
}

// Version describes one recorded snapshot.
type Version struct {
	Hash    string    `json:"hash"`
	Title   string    `json:"title"`
	Size    int       `json:"size"`
	SavedAt time.Time `json:"savedAt"`
}

// Service manages one bare-bones git repository per document under a base
// directory. All operations on the same document serialize on a
// per-document lock.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits a snapshot as the new head of the document's history,
// initializing the repository on first use.
func (s *Service) Record(kind, id string, snapshot []byte, title string) error {
	lock := s.documentLock(kind, id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(kind, id)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, snapshotFile), snapshot, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	payload, err := json.MarshalIndent(meta{Title: title, Size: len(snapshot), SavedAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, metaFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	if _, err := worktree.Add(snapshotFile); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}
	if _, err := worktree.Add(metaFile); err != nil {
		return fmt.Errorf("git add meta: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		// Identical snapshot re-saved; nothing to record.
		return nil
	}

	if _, err := worktree.Commit(fmt.Sprintf("Snapshot %s-%s", kind, id), &git.CommitOptions{
		Author: signature(),
	}); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// History lists recorded versions, newest first.
func (s *Service) History(kind, id string, limit int) ([]Version, error) {
	lock := s.documentLock(kind, id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(kind, id))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Version{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Version{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	versions := make([]Version, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		versions = append(versions, toVersion(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return versions, nil
}

// SnapshotAt returns the snapshot blob recorded in the given commit.
func (s *Service) SnapshotAt(kind, id, hash string) ([]byte, error) {
	lock := s.documentLock(kind, id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(kind, id))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("read %s at %s: %w", snapshotFile, hash, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", snapshotFile, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *Service) ensureRepo(kind, id string) (*git.Repository, error) {
	path := s.repoPath(kind, id)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(kind, id string) string {
	return filepath.Join(s.baseDir, kind, id)
}

func (s *Service) documentLock(kind, id string) *sync.Mutex {
	key := kind + "/" + id
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

func toVersion(commitObj *object.Commit) Version {
	v := Version{
		Hash:    commitObj.Hash.String()[:7],
		SavedAt: commitObj.Author.When,
	}
	if file, err := commitObj.File(metaFile); err == nil {
		if contents, err := file.Contents(); err == nil {
			var m meta
			if json.Unmarshal([]byte(contents), &m) == nil {
				v.Title = m.Title
				v.Size = m.Size
				v.SavedAt = m.SavedAt
			}
		}
	}
	return v
}

func signature() *object.Signature {
	return &object.Signature{
		Name:  "Hywiz",
		Email: "hywiz@localhost",
		When:  time.Now(),
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
