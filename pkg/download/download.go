// Package download implements the standalone bulk fetch: resolve a
// module map against the remote repository and mirror the files into a
// local directory, preserving the repository layout. Unlike the cache,
// this path retries transient failures with a linear backoff.
package download

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/datadock/datadock/pkg/errors"
	"github.com/datadock/datadock/pkg/gitlab"
	"github.com/datadock/datadock/pkg/log"
)

// Options configures one bulk download.
type Options struct {
	RepoID string
	Branch string
	Token  string

	// DestDir is the local root the repository layout is mirrored into.
	DestDir string

	// MaxRetries bounds attempts per file (default 3).
	MaxRetries int

	// Concurrency bounds parallel fetches (default 4).
	Concurrency int

	// ShowProgress renders a progress bar on stderr.
	ShowProgress bool
}

// Result summarizes one bulk download.
type Result struct {
	Resolved []string // repository paths matched to requested files
	Saved    []string // local paths written
	Missing  []string // requested files not present remotely
	Failed   map[string]error
}

// Run resolves every file named by the module map and downloads the
// matches. Per-file failures are collected, not fatal.
func Run(ctx context.Context, client *gitlab.Client, modules map[string][]string, opts Options) (*Result, error) {
	if opts.Token == "" {
		return nil, errors.TokenMissing()
	}
	if opts.RepoID == "" {
		return nil, errors.New(errors.CodeConfig, "repository id not configured")
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.DestDir == "" {
		opts.DestDir = "data"
	}

	available, err := client.ListFiles(ctx, opts.RepoID, opts.Branch, opts.Token)
	if err != nil {
		return nil, err
	}

	res := &Result{Failed: map[string]error{}}
	for _, name := range distinct(modules) {
		if remotePath, ok := resolve(name, available); ok {
			res.Resolved = append(res.Resolved, remotePath)
		} else {
			log.Warn("not found in repository: %s", name)
			res.Missing = append(res.Missing, name)
		}
	}
	if len(res.Resolved) == 0 {
		return res, nil
	}

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.Default(int64(len(res.Resolved)), "downloading")
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, remotePath := range res.Resolved {
		remotePath := remotePath
		g.Go(func() error {
			local, err := fetchOne(gctx, client, remotePath, opts)
			mu.Lock()
			if err != nil {
				res.Failed[remotePath] = err
				log.Warn("failed to download %s: %v", remotePath, err)
			} else {
				res.Saved = append(res.Saved, local)
			}
			mu.Unlock()
			if bar != nil {
				bar.Add(1)
			}
			// Per-file failures never cancel the batch.
			return nil
		})
	}
	g.Wait()

	log.Info("downloaded %d of %d files into %s", len(res.Saved), len(res.Resolved), opts.DestDir)
	return res, nil
}

// fetchOne downloads a single file with bounded retries and a linear
// backoff, then writes it under the destination root.
func fetchOne(ctx context.Context, client *gitlab.Client, remotePath string, opts Options) (string, error) {
	var content []byte
	var err error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		content, err = client.FetchFile(ctx, opts.RepoID, opts.Branch, remotePath, opts.Token)
		if err == nil {
			break
		}
		if !errors.IsRetryable(err) || attempt == opts.MaxRetries-1 {
			return "", err
		}
		backoff := time.Duration(1+attempt) * time.Second
		log.Debug("retrying %s in %s (attempt %d): %v", remotePath, backoff, attempt+1, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	local := filepath.Join(opts.DestDir, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(local, content, 0o644); err != nil {
		return "", err
	}
	return local, nil
}

func distinct(modules map[string][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, names := range modules {
		for _, name := range names {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}

// resolve matches a requested filename to a repository path, exact
// first, then by basename.
func resolve(name string, available []string) (string, bool) {
	for _, p := range available {
		if p == name {
			return p, true
		}
	}
	base := path.Base(name)
	for _, p := range available {
		if p == base || strings.HasSuffix(p, "/"+base) {
			return p, true
		}
	}
	return "", false
}
