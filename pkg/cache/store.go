// Package cache persists downloaded data files on disk and tracks
// their freshness against the remote repository. Every cached file has
// a metadata record; file and record are kept in sync on every
// mutation so that a lookup can trust either both or neither.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datadock/datadock/internal/metrics"
	"github.com/datadock/datadock/pkg/decode"
	"github.com/datadock/datadock/pkg/dedup"
	"github.com/datadock/datadock/pkg/errors"
	"github.com/datadock/datadock/pkg/gitlab"
	"github.com/datadock/datadock/pkg/log"
)

// Store is a disk-backed cache of remote data files.
//
// All metadata mutations funnel through methods guarded by one mutex;
// the foreground loaders and the background poller share the same
// instance and the same API.
type Store struct {
	dir     string
	client  *gitlab.Client
	backend MetadataBackend

	mu   sync.Mutex
	meta map[string]*Record
}

// NewStore opens (or creates) a cache rooted at dir. Existing metadata
// is loaded; an unreadable sidecar degrades to an empty cache.
func NewStore(dir string, client *gitlab.Client, backend MetadataBackend) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheWrite, "failed to create cache directory")
	}
	if backend == nil {
		backend = NewFileBackend(dir)
	}

	meta, err := backend.Load(context.Background())
	if err != nil {
		log.Warn("failed to load cache metadata (%s backend), starting empty: %v", backend.Name(), err)
		meta = map[string]*Record{}
	}

	s := &Store{
		dir:     dir,
		client:  client,
		backend: backend,
		meta:    meta,
	}
	metrics.CachedFiles.Set(float64(len(meta)))
	return s, nil
}

// Dir returns the cache root.
func (s *Store) Dir() string { return s.dir }

// path maps a cached filename to its on-disk location, preserving any
// directory components of the remote path.
func (s *Store) path(filename string) string {
	return filepath.Join(s.dir, filepath.FromSlash(filename))
}

// IsCached reports whether filename is usable from cache: the file
// must exist on disk and have a metadata record. Either half alone
// counts as a miss and self-heals on the next download.
func (s *Store) IsCached(filename string) bool {
	s.mu.Lock()
	_, hasRecord := s.meta[filename]
	s.mu.Unlock()

	_, statErr := os.Stat(s.path(filename))
	if hasRecord && statErr == nil {
		metrics.CacheHits.Inc()
		return true
	}
	metrics.CacheMisses.Inc()
	return false
}

// GetCachedFile returns the on-disk path of a cached file, or false.
func (s *Store) GetCachedFile(filename string) (string, bool) {
	if !s.IsCached(filename) {
		return "", false
	}
	return s.path(filename), true
}

// DownloadAndCache fetches one file from the remote repository and
// commits it to the cache. Parquet content is deduplicated before the
// metadata record is written; a dedup failure aborts the caching of
// this file. The version id and commit date are fetched separately and
// best-effort: missing either leaves the field empty, it does not fail
// the download.
func (s *Store) DownloadAndCache(ctx context.Context, filename, repoID, branch, token string) error {
	content, err := s.client.FetchFile(ctx, repoID, branch, filename, token)
	if err != nil {
		metrics.Downloads.WithLabelValues("fetch_error").Inc()
		return errors.Wrapf(err, errors.CodeCacheWrite, "failed to download %s", filename)
	}

	final := s.path(filename)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		metrics.Downloads.WithLabelValues("disk_error").Inc()
		return errors.Wrap(err, errors.CodeCacheWrite, "failed to create cache subdirectory")
	}

	// Stage next to the final location so the rename below stays on
	// one filesystem and a failure never clobbers the cached copy.
	tmp, err := os.CreateTemp(filepath.Dir(final), filepath.Base(final)+".part-*")
	if err != nil {
		metrics.Downloads.WithLabelValues("disk_error").Inc()
		return errors.Wrap(err, errors.CodeCacheWrite, "failed to stage download")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		metrics.Downloads.WithLabelValues("disk_error").Inc()
		return errors.Wrapf(err, errors.CodeCacheWrite, "failed to write %s", filename)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		metrics.Downloads.WithLabelValues("disk_error").Inc()
		return errors.Wrapf(err, errors.CodeCacheWrite, "failed to write %s", filename)
	}

	if strings.HasSuffix(strings.ToLower(filename), decode.ExtParquet) {
		stats, err := dedup.ParquetWithBackup(tmpName, final+dedup.BackupSuffix)
		if err != nil {
			os.Remove(tmpName)
			metrics.Downloads.WithLabelValues("dedup_error").Inc()
			return errors.Wrapf(err, errors.CodeDedupFailed, "deduplication failed for %s", filename)
		}
		if stats.Removed > 0 {
			log.Info("dedup removed %d duplicate rows from %s", stats.Removed, filename)
		}
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		metrics.Downloads.WithLabelValues("disk_error").Inc()
		return errors.Wrapf(err, errors.CodeCacheWrite, "failed to commit %s", filename)
	}

	now := time.Now().UTC()
	rec := &Record{
		Filename:     filename,
		DownloadedAt: now,
		LastChecked:  now,
		RepoID:       repoID,
		Branch:       branch,
	}
	if info, err := os.Stat(final); err == nil {
		rec.SizeBytes = info.Size()
	}

	if id, err := s.client.FetchLatestVersionID(ctx, repoID, branch, filename, token); err == nil {
		rec.RemoteVersionID = id
	} else {
		log.Debug("no version id for %s: %v", filename, err)
	}
	if ts, err := s.client.FetchLatestCommitDate(ctx, repoID, branch, filename, token); err == nil {
		rec.CommitDate = &ts
	} else {
		log.Debug("no commit date for %s: %v", filename, err)
	}

	s.mu.Lock()
	s.meta[filename] = rec
	s.persistLocked(ctx)
	metrics.CachedFiles.Set(float64(len(s.meta)))
	s.mu.Unlock()

	metrics.Downloads.WithLabelValues("ok").Inc()
	log.Info("cached %s (%d bytes) from %s@%s", filename, rec.SizeBytes, repoID, branch)
	return nil
}

// CheckForUpdates reports whether the remote content differs from the
// cached copy, comparing opaque version ids for equality. A file with
// no record always needs a download. A fetch failure reports false so
// transient network errors never force redundant downloads. The
// last-checked timestamp advances regardless of the outcome.
func (s *Store) CheckForUpdates(ctx context.Context, filename, token string) bool {
	s.mu.Lock()
	rec, ok := s.meta[filename]
	var repoID, branch, cachedID string
	if ok {
		repoID, branch, cachedID = rec.RepoID, rec.Branch, rec.RemoteVersionID
	}
	s.mu.Unlock()

	if !ok {
		metrics.StalenessChecks.WithLabelValues("stale").Inc()
		return true
	}
	if repoID == "" || branch == "" {
		// Incomplete record; safer to refresh.
		metrics.StalenessChecks.WithLabelValues("stale").Inc()
		return true
	}

	remoteID, err := s.client.FetchLatestVersionID(ctx, repoID, branch, filename, token)

	s.mu.Lock()
	if rec, ok := s.meta[filename]; ok {
		rec.LastChecked = time.Now().UTC()
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	if err != nil || remoteID == "" {
		if err != nil {
			log.Debug("staleness check failed for %s: %v", filename, err)
		}
		metrics.StalenessChecks.WithLabelValues("error").Inc()
		return false
	}

	if remoteID != cachedID {
		log.Info("update available for %s: %s -> %s", filename, cachedID, remoteID)
		metrics.StalenessChecks.WithLabelValues("stale").Inc()
		return true
	}
	metrics.StalenessChecks.WithLabelValues("fresh").Inc()
	return false
}

// Clear removes one cached file, or every cached file when filename is
// empty. The metadata sidecar is rewritten, not deleted.
func (s *Store) Clear(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remove := func(name string) {
		p := s.path(name)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove %s: %v", p, err)
		}
		// Backups follow their file out of the cache.
		os.Remove(p + dedup.BackupSuffix)
		delete(s.meta, name)
	}

	if filename != "" {
		remove(filename)
	} else {
		for name := range s.meta {
			remove(name)
		}
	}

	s.persistLocked(context.Background())
	metrics.CachedFiles.Set(float64(len(s.meta)))
	return nil
}

// Info summarizes the cache state from actual on-disk sizes. Files
// whose content went missing are skipped rather than failing the call.
type Info struct {
	FileCount   int      `json:"file_count"`
	TotalSizeMB float64  `json:"total_size_mb"`
	Dir         string   `json:"cache_dir"`
	Files       []string `json:"files"`
}

// GetInfo reports the current cache contents.
func (s *Store) GetInfo() Info {
	s.mu.Lock()
	names := make([]string, 0, len(s.meta))
	for name := range s.meta {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	info := Info{Dir: s.dir, Files: names}
	var total int64
	for _, name := range names {
		st, err := os.Stat(s.path(name))
		if err != nil {
			continue
		}
		info.FileCount++
		total += st.Size()
	}
	info.TotalSizeMB = float64(total) / (1024 * 1024)
	return info
}

// Record returns a copy of the metadata record for filename.
func (s *Store) Record(filename string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.meta[filename]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every record, keyed by filename.
func (s *Store) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.meta))
	for name, rec := range s.meta {
		out[name] = *rec
	}
	return out
}

// persistLocked writes the whole metadata map through the backend.
// Callers hold s.mu.
func (s *Store) persistLocked(ctx context.Context) {
	if err := s.backend.Save(ctx, s.meta); err != nil {
		log.Error("failed to persist cache metadata (%s backend): %v", s.backend.Name(), err)
	}
}
