// Package repo resolves commit refs and materializes checkouts with the git CLI.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrRefNotFound means the remote answered but has no such ref or commit.
	ErrRefNotFound = errors.New("ref not found")
	// ErrUnreachable means the remote could not be contacted at all.
	ErrUnreachable = errors.New("repository unreachable")
	// ErrGitFailed is any other git failure.
	ErrGitFailed = errors.New("git command failed")
)

var fullSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Repository is the source-control collaborator used by the deployment engine.
type Repository interface {
	// Resolve turns a branch, tag or full SHA into a commit SHA. An empty
	// ref resolves the remote's default branch.
	Resolve(ctx context.Context, url, ref string) (string, error)
	// Checkout makes dir a clean working tree of url at sha.
	Checkout(ctx context.Context, url, dir, sha string) error
}

// GitError carries the failing git invocation and its output.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), out)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Git implements Repository by shelling out to git.
type Git struct {
	binary string
	logger *slog.Logger
}

// Option configures Git.
type Option func(*Git)

// WithBinary overrides the git executable.
func WithBinary(path string) Option {
	return func(g *Git) {
		g.binary = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Git) {
		g.logger = logger
	}
}

// New creates a git-backed repository collaborator.
func New(opts ...Option) *Git {
	g := &Git{binary: "git"}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "repo")
	return g
}

// Resolve implements Repository.
func (g *Git) Resolve(ctx context.Context, url, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if fullSHA.MatchString(strings.ToLower(ref)) {
		return strings.ToLower(ref), nil
	}

	pattern := ref
	if pattern == "" {
		pattern = "HEAD"
	}
	out, err := g.run(ctx, "", "ls-remote", url, pattern)
	if err != nil {
		return "", err
	}

	sha, ok := pickRef(out, ref)
	if !ok {
		return "", &GitError{Args: []string{"ls-remote", url, pattern}, Err: ErrRefNotFound}
	}
	g.logger.Debug("resolved ref", "url", url, "ref", pattern, "sha", sha)
	return sha, nil
}

// pickRef chooses the best match from ls-remote output. Branches win over
// tags, and annotated tags resolve to the commit they point at.
func pickRef(lsRemote, ref string) (string, bool) {
	refs := map[string]string{}
	for _, line := range strings.Split(lsRemote, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		refs[fields[1]] = fields[0]
	}

	var candidates []string
	if ref == "" || ref == "HEAD" {
		candidates = []string{"HEAD"}
	} else {
		name := strings.TrimPrefix(ref, "refs/")
		candidates = []string{
			"refs/" + name,
			"refs/heads/" + ref,
			"refs/tags/" + ref + "^{}",
			"refs/tags/" + ref,
		}
	}
	for _, c := range candidates {
		if sha, ok := refs[c]; ok {
			return sha, true
		}
	}
	return "", false
}

// Checkout implements Repository. The working tree is forced to sha and
// untracked files are removed, so files generated by a previous build never
// leak into the next one.
func (g *Git) Checkout(ctx context.Context, url, dir, sha string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat checkout: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return fmt.Errorf("create checkout parent: %w", err)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear checkout dir: %w", err)
		}
		g.logger.Info("cloning repository", "url", url, "dir", dir)
		if _, err := g.run(ctx, "", "clone", "--no-checkout", url, dir); err != nil {
			return err
		}
	} else {
		if _, err := g.run(ctx, dir, "remote", "set-url", "origin", url); err != nil {
			return err
		}
		if _, err := g.run(ctx, dir, "fetch", "--force", "--tags", "--prune", "origin"); err != nil {
			return err
		}
	}

	if _, err := g.run(ctx, dir, "-c", "advice.detachedHead=false", "checkout", "--force", "--detach", sha); err != nil {
		return err
	}
	if _, err := g.run(ctx, dir, "clean", "-ffdx"); err != nil {
		return err
	}
	return nil
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		out := buf.String()
		return out, &GitError{Args: args, Output: out, Err: classify(out, err)}
	}
	return buf.String(), nil
}

var unreachableMarkers = []string{
	"could not read from remote",
	"unable to access",
	"could not resolve host",
	"connection refused",
	"connection timed out",
	"does not appear to be a git repository",
	"repository not found",
	"not found",
	"authentication failed",
}

var missingRefMarkers = []string{
	"reference is not a tree",
	"invalid reference",
	"did not match any file",
	"unknown revision",
	"not a valid object name",
	"pathspec",
}

func classify(output string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrGitFailed, err)
	}
	lower := strings.ToLower(output)
	for _, m := range missingRefMarkers {
		if strings.Contains(lower, m) {
			return ErrRefNotFound
		}
	}
	for _, m := range unreachableMarkers {
		if strings.Contains(lower, m) {
			return ErrUnreachable
		}
	}
	return ErrGitFailed
}
