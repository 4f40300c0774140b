// Package dedup removes exact full-row duplicates from parquet files
// in place. The file is rewritten only when at least one row was
// removed, so unchanged content keeps its timestamps.
package dedup

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/datadock/datadock/internal/metrics"
	"github.com/datadock/datadock/pkg/errors"
	"github.com/datadock/datadock/pkg/log"
)

// BackupSuffix is appended to the original filename when a pre-dedup
// backup is kept.
const BackupSuffix = ".bak.parquet"

// Stats reports what one deduplication pass did.
type Stats struct {
	File     string `json:"file"`
	Original int64  `json:"original"`
	Deduped  int64  `json:"deduped"`
	Removed  int64  `json:"removed"`
	Status   string `json:"status"`
}

// Parquet deduplicates the parquet file at path with the default
// backup location (path + BackupSuffix).
func Parquet(path string, createBackup bool) (*Stats, error) {
	backup := ""
	if createBackup {
		backup = path + BackupSuffix
	}
	return ParquetWithBackup(path, backup)
}

// ParquetWithBackup deduplicates the parquet file at path. A non-empty
// backupPath keeps a one-time copy of the pre-dedup content there; an
// existing backup is never overwritten. A non-nil error means the file
// must not be treated as cached.
func ParquetWithBackup(path, backupPath string) (*Stats, error) {
	stats := &Stats{File: path}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		stats.Status = fmt.Sprintf("error: %v", err)
		return stats, errors.Wrap(err, errors.CodeDedupFailed, "failed to open DuckDB")
	}
	defer db.Close()

	if err := db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM read_parquet('%s')`, escapePath(path),
	)).Scan(&stats.Original); err != nil {
		stats.Status = fmt.Sprintf("error: %v", err)
		return stats, errors.Wrapf(err, errors.CodeDedupFailed, "failed to read %s", path)
	}

	if err := db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM (SELECT DISTINCT * FROM read_parquet('%s'))`, escapePath(path),
	)).Scan(&stats.Deduped); err != nil {
		stats.Status = fmt.Sprintf("error: %v", err)
		return stats, errors.Wrapf(err, errors.CodeDedupFailed, "failed to count distinct rows of %s", path)
	}

	stats.Removed = stats.Original - stats.Deduped
	if stats.Removed == 0 {
		stats.Status = "ok"
		return stats, nil
	}

	if backupPath != "" {
		if err := backupOnce(path, backupPath); err != nil {
			stats.Status = fmt.Sprintf("error: %v", err)
			return stats, errors.Wrap(err, errors.CodeDedupFailed, "failed to back up before dedup")
		}
	}

	tmp := path + ".dedup.tmp"
	_, err = db.Exec(fmt.Sprintf(
		`COPY (SELECT DISTINCT * FROM read_parquet('%s')) TO '%s' (FORMAT PARQUET)`,
		escapePath(path), escapePath(tmp)))
	if err != nil {
		os.Remove(tmp)
		stats.Status = fmt.Sprintf("error: %v", err)
		return stats, errors.Wrapf(err, errors.CodeDedupFailed, "failed to rewrite %s", path)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		stats.Status = fmt.Sprintf("error: %v", err)
		return stats, errors.Wrap(err, errors.CodeDedupFailed, "failed to replace original")
	}

	metrics.DedupRowsRemoved.Add(float64(stats.Removed))
	log.Info("deduplicated %s: removed %d of %d rows", path, stats.Removed, stats.Original)

	stats.Status = "ok"
	return stats, nil
}

// backupOnce copies the file to the backup location unless one
// already exists.
func backupOnce(path, backup string) error {
	if _, err := os.Stat(backup); err == nil {
		log.Debug("backup already exists: %s", backup)
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(backup)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backup)
		return err
	}
	return dst.Close()
}

func escapePath(p string) string {
	return strings.ReplaceAll(p, "'", "''")
}
