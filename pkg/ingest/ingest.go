// Package ingest orchestrates one load of the datasets a caller has
// declared it needs: resolve each filename against the configured
// source, decode it, and report everything that went wrong without
// failing the batch. Partial results are the normal case.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/datadock/datadock/pkg/cache"
	"github.com/datadock/datadock/pkg/gitlab"
	"github.com/datadock/datadock/pkg/log"
	"github.com/datadock/datadock/pkg/table"
)

// Mode selects where dataset files come from.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
	ModeS3     Mode = "s3"
)

// Source describes one data source.
type Source struct {
	Mode Mode

	// Local mode
	LocalRoot string

	// Remote (repository) mode
	RepoID string
	Branch string
	Token  string

	// S3 mode
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Log accumulates the human-readable trace of one orchestration run.
// It is created fresh per call and owned by the caller.
type Log struct {
	Info     []string
	Warnings []string
}

// Infof appends an info entry.
func (l *Log) Infof(format string, args ...interface{}) {
	l.Info = append(l.Info, fmt.Sprintf(format, args...))
}

// Warnf appends a warning entry.
func (l *Log) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.Warnings = append(l.Warnings, msg)
	log.Warn(msg)
}

// Orchestrator loads declared datasets through the cache and decoder.
type Orchestrator struct {
	client *gitlab.Client
	store  *cache.Store
}

// New creates an orchestrator. The store may be nil, in which case
// remote files are decoded in memory without being cached.
func New(client *gitlab.Client, store *cache.Store) *Orchestrator {
	return &Orchestrator{client: client, store: store}
}

// Load resolves every filename requested by the module map against the
// source, returning the decoded tables, their effective "last updated"
// timestamps, and the run log. A file listed in no module is never
// fetched. Individual failures become warnings; Load itself never
// fails.
func (o *Orchestrator) Load(ctx context.Context, modules map[string][]string, src Source) (map[string]*table.Table, map[string]time.Time, *Log) {
	runID := uuid.NewString()[:8]
	ctx, span := otel.Tracer("datadock/ingest").Start(ctx, "ingest.load")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("mode", string(src.Mode)),
	)

	lg := &Log{}
	data := map[string]*table.Table{}
	dates := map[string]time.Time{}

	files := distinctFiles(modules)
	lg.Infof("run %s: %d distinct files requested across %d modules", runID, len(files), len(modules))
	if len(files) == 0 {
		return data, dates, lg
	}

	switch src.Mode {
	case ModeLocal:
		o.loadLocal(files, src, data, dates, lg)
	case ModeRemote:
		o.loadRemote(ctx, files, src, data, dates, lg)
	case ModeS3:
		o.loadS3(ctx, files, src, data, dates, lg)
	default:
		lg.Warnf("unknown data source mode: %q", src.Mode)
	}

	span.SetAttributes(
		attribute.Int("loaded", len(data)),
		attribute.Int("warnings", len(lg.Warnings)),
	)
	lg.Infof("run %s: loaded %d of %d files", runID, len(data), len(files))
	return data, dates, lg
}

// distinctFiles flattens the module map into a deduplicated file list.
// Modules may share files; each is loaded once.
func distinctFiles(modules map[string][]string) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, names := range modules {
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			files = append(files, name)
		}
	}
	return files
}
