package ingest

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/datadock/datadock/pkg/decode"
	"github.com/datadock/datadock/pkg/table"
)

// loadRemote resolves files against the remote repository. The tree is
// listed once per run; each requested filename is matched exactly
// first, then by basename suffix, tolerating a different directory
// layout remotely than locally. The commit date of the file — when the
// data changed, not when we downloaded it — is the effective date.
func (o *Orchestrator) loadRemote(ctx context.Context, files []string, src Source, data map[string]*table.Table, dates map[string]time.Time, lg *Log) {
	if src.Token == "" {
		lg.Warnf("remote mode selected but no access token configured")
		return
	}
	if src.RepoID == "" {
		lg.Warnf("remote mode selected but no repository id configured")
		return
	}
	branch := src.Branch
	if branch == "" {
		branch = "main"
	}

	available, err := o.client.ListFiles(ctx, src.RepoID, branch, src.Token)
	if err != nil {
		lg.Warnf("failed to list remote files: %v", err)
		return
	}
	if len(available) == 0 {
		lg.Warnf("remote repository %s@%s lists no files", src.RepoID, branch)
		return
	}
	lg.Infof("remote listing: %d files in %s@%s", len(available), src.RepoID, branch)

	for _, name := range files {
		remotePath, fallback := resolveRemotePath(name, available)
		if remotePath == "" {
			lg.Warnf("file not found in remote repository: %s", name)
			continue
		}
		if fallback {
			lg.Infof("using fallback path for %s: %s", name, remotePath)
		}

		tbl, date, err := o.fetchRemote(ctx, name, remotePath, src.RepoID, branch, src.Token)
		if err != nil {
			lg.Warnf("failed to load %s: %v", name, err)
			continue
		}
		if tbl == nil {
			lg.Warnf("unsupported file type: %s", name)
			continue
		}

		data[name] = tbl
		dates[name] = date
		lg.Infof("loaded %s from %s (%d rows)", name, remotePath, tbl.NumRows())
	}
}

// resolveRemotePath finds the repository path serving a requested
// filename: exact match first, then by basename.
func resolveRemotePath(name string, available []string) (string, bool) {
	for _, p := range available {
		if p == name {
			return p, false
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

// fetchRemote pulls one file through the disk cache when one is
// configured, decoding from disk; otherwise it decodes in memory.
func (o *Orchestrator) fetchRemote(ctx context.Context, name, remotePath, repoID, branch, token string) (*table.Table, time.Time, error) {
	if o.store != nil {
		if err := o.store.DownloadAndCache(ctx, remotePath, repoID, branch, token); err != nil {
			// A cached copy from an earlier run still serves.
			if _, ok := o.store.GetCachedFile(remotePath); !ok {
				return nil, time.Time{}, err
			}
		}
		cached, _ := o.store.GetCachedFile(remotePath)
		tbl, err := decode.File(name, cached)
		if err != nil || tbl == nil {
			return tbl, time.Time{}, err
		}
		date := time.Now().UTC()
		if rec, ok := o.store.Record(remotePath); ok {
			if rec.CommitDate != nil {
				date = *rec.CommitDate
			} else {
				date = rec.DownloadedAt
			}
		}
		return tbl, date, nil
	}

	content, err := o.client.FetchFile(ctx, repoID, branch, remotePath, token)
	if err != nil {
		return nil, time.Time{}, err
	}
	tbl, err := decode.Bytes(name, content)
	if err != nil || tbl == nil {
		return tbl, time.Time{}, err
	}

	date := time.Now().UTC()
	if ts, err := o.client.FetchLatestCommitDate(ctx, repoID, branch, remotePath, token); err == nil {
		date = ts
	}
	return tbl, date, nil
}
