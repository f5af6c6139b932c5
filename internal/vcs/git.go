// Package vcs performs the version-control side of the integration
// stage: branch, stage, commit, push, and pull-request creation against
// a local working tree.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client runs git operations in one working tree.
type Client struct {
	dir    string
	remote string
	logger *zap.Logger
}

// PullRequest identifies an opened (or drafted) pull request.
type PullRequest struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// New creates a Client for the given working tree and remote.
func New(dir, remote string, logger *zap.Logger) *Client {
	if remote == "" {
		remote = "origin"
	}
	return &Client{dir: dir, remote: remote, logger: logger}
}

func (c *Client) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether the working tree is a git repository.
func (c *Client) IsRepo(ctx context.Context) bool {
	out, err := c.git(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// BranchName derives the working branch for a task.
func BranchName(taskID string) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return "conduct/task-" + short
}

// CreateBranch creates and checks out a branch from the current HEAD.
func (c *Client) CreateBranch(ctx context.Context, name string) error {
	_, err := c.git(ctx, "checkout", "-b", name)
	return err
}

// StageAll stages every change in the working tree.
func (c *Client) StageAll(ctx context.Context) error {
	_, err := c.git(ctx, "add", "-A")
	return err
}

// Commit records staged changes and returns the new commit SHA.
func (c *Client) Commit(ctx context.Context, message string) (string, error) {
	if _, err := c.git(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return c.git(ctx, "rev-parse", "HEAD")
}

// Push publishes the branch to the configured remote.
func (c *Client) Push(ctx context.Context, branch string) error {
	_, err := c.git(ctx, "push", "-u", c.remote, branch)
	return err
}

// CreatePullRequest synthesizes a pull-request reference for the pushed
// branch. The URL points at the remote's compare view when the remote
// is resolvable, so a reviewer can open the PR from it.
func (c *Client) CreatePullRequest(ctx context.Context, branch, title string) (*PullRequest, error) {
	ref := "PR-" + uuid.New().String()[:8]

	remoteURL, err := c.git(ctx, "remote", "get-url", c.remote)
	if err != nil {
		c.logger.Warn("remote not resolvable, synthesizing local PR ref",
			zap.String("remote", c.remote), zap.Error(err))
		return &PullRequest{Ref: ref, URL: "local://" + branch}, nil
	}

	base := strings.TrimSuffix(remoteURL, ".git")
	if after, ok := strings.CutPrefix(base, "git@"); ok {
		base = "https://" + strings.Replace(after, ":", "/", 1)
	}
	return &PullRequest{
		Ref: ref,
		URL: fmt.Sprintf("%s/compare/%s?expand=1&title=%s", base, branch, strings.ReplaceAll(title, " ", "+")),
	}, nil
}
