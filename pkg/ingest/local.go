package ingest

import (
	"os"
	"path/filepath"
	"time"

	"github.com/datadock/datadock/pkg/decode"
	"github.com/datadock/datadock/pkg/table"
)

// loadLocal resolves files under a local directory root. Missing files
// are warnings, not failures. The filesystem modification time serves
// as the effective "last updated" date.
func (o *Orchestrator) loadLocal(files []string, src Source, data map[string]*table.Table, dates map[string]time.Time, lg *Log) {
	root := src.LocalRoot
	if root == "" {
		lg.Warnf("local mode selected but no data directory configured")
		return
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		lg.Warnf("local data directory does not exist: %s", root)
		return
	}

	for _, name := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		st, err := os.Stat(path)
		if err != nil {
			lg.Warnf("file not found locally: %s", name)
			continue
		}

		tbl, err := decode.File(name, path)
		if err != nil {
			lg.Warnf("failed to decode %s: %v", name, err)
			continue
		}
		if tbl == nil {
			lg.Warnf("unsupported file type: %s", name)
			continue
		}

		data[name] = tbl
		dates[name] = st.ModTime()
		lg.Infof("loaded %s from %s (%d rows)", name, path, tbl.NumRows())
	}
}
