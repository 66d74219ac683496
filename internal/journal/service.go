// Package journal keeps a per-user git repository of submitted weekly
// reviews. Each submission becomes a Markdown file committed on main, so
// the full review history survives edits and is diffable with ordinary
// git tooling.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"waypoint/api/internal/review"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitInfo describes one journal commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

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

// EnsureJournal initializes the user's journal repo if it does not exist.
func (s *Service) EnsureJournal(userID, displayName string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(userID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat journal path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init journal: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("# Weekly review journal\n\nReviews for %s, one Markdown file per week.\n", displayName)
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("write journal readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Start weekly review journal", &git.CommitOptions{
		Author: signature(displayName),
	})
	if err != nil {
		return fmt.Errorf("commit journal readme: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitReview writes the review as Markdown and commits it on main.
// Resubmitting the same week overwrites the file, so the git log keeps
// every version.
func (s *Service) CommitReview(userID, displayName string, payload review.SubmitPayload) (CommitInfo, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(userID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open journal: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	name := FileName(payload.WeekYear, payload.Week)
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, name), []byte(RenderMarkdown(payload)), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write review file: %w", err)
	}
	if _, err := worktree.Add(name); err != nil {
		return CommitInfo{}, fmt.Errorf("git add review: %w", err)
	}

	message := fmt.Sprintf("Weekly review %d-W%02d", payload.WeekYear, payload.Week)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(displayName),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit review: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// ReviewAtHead returns the Markdown for a given week from the journal HEAD.
func (s *Service) ReviewAtHead(userID string, weekYear, week int) (string, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(userID))
	if err != nil {
		return "", fmt.Errorf("open journal: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return "", fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("load commit object: %w", err)
	}

	file, err := commitObj.File(FileName(weekYear, week))
	if err != nil {
		return "", fmt.Errorf("load review from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open review reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read review bytes: %w", err)
	}
	return string(data), nil
}

// History lists journal commits, newest first.
func (s *Service) History(userID string, limit int) ([]CommitInfo, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(userID))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// FileName is the journal path for a given ISO week.
func FileName(weekYear, week int) string {
	return fmt.Sprintf("%d-W%02d.md", weekYear, week)
}

// RenderMarkdown formats a submitted review as the journal file body.
func RenderMarkdown(p review.SubmitPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Week %d, %d (%s to %s)\n\n", p.Week, p.WeekYear, p.WeekStart, p.WeekEnd)
	fmt.Fprintf(&b, "Mood: %s\n", review.MoodLabels[p.Mood])
	writeSection(&b, "Wins", p.Wins)
	writeSection(&b, "Challenges", p.Challenges)
	if strings.TrimSpace(p.Learnings) != "" {
		fmt.Fprintf(&b, "\n## Learnings\n\n%s\n", p.Learnings)
	}
	if strings.TrimSpace(p.AlignmentReflection) != "" {
		fmt.Fprintf(&b, "\n## Alignment\n\n%s\n", p.AlignmentReflection)
	}
	writeSection(&b, "Next week's priorities", p.NextWeekPriorities)
	return b.String()
}

func writeSection(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func (s *Service) repoPath(userID string) string {
	return filepath.Join(s.baseDir, userID)
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[userID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[userID] = lock
	return lock
}

func signature(displayName string) *object.Signature {
	return &object.Signature{
		Name:  displayName,
		Email: fmt.Sprintf("%s@local.waypoint.dev", sanitizeEmail(displayName)),
		When:  time.Now(),
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
