package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/datadock/datadock/pkg/gitlab"
)

// fakeRemote serves the three repository endpoints the store uses and
// lets tests flip the advertised version id.
type fakeRemote struct {
	content   string
	versionID atomic.Value // string
	fetches   atomic.Int64
}

func newFakeRemote(content, versionID string) *fakeRemote {
	f := &fakeRemote{content: content}
	f.versionID.Store(versionID)
	return f
}

func (f *fakeRemote) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/raw"):
			f.fetches.Add(1)
			w.Write([]byte(f.content))
		case strings.Contains(r.URL.Path, "/repository/files/"):
			json.NewEncoder(w).Encode(map[string]string{
				"last_commit_id": f.versionID.Load().(string),
				"blob_id":        "blob-x",
			})
		case strings.Contains(r.URL.Path, "/repository/commits"):
			fmt.Fprint(w, `[{"committed_date": "2024-05-01T09:00:00+00:00"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestStore(t *testing.T, remote *fakeRemote) *Store {
	t.Helper()
	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	store, err := NewStore(t.TempDir(), gitlab.NewClient(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestDownloadAndCache(t *testing.T) {
	remote := newFakeRemote("id,name\n1,alice\n", "v1")
	store := newTestStore(t, remote)

	if store.IsCached("data/pop.csv") {
		t.Fatal("Fresh store should not report cached files")
	}

	err := store.DownloadAndCache(context.Background(), "data/pop.csv", "1", "main", "tok")
	if err != nil {
		t.Fatalf("DownloadAndCache failed: %v", err)
	}

	if !store.IsCached("data/pop.csv") {
		t.Fatal("File should be cached after download")
	}
	p, ok := store.GetCachedFile("data/pop.csv")
	if !ok {
		t.Fatal("GetCachedFile should find the file")
	}
	content, err := os.ReadFile(p)
	if err != nil || string(content) != "id,name\n1,alice\n" {
		t.Errorf("Cached content mismatch: %q, %v", content, err)
	}

	rec, ok := store.Record("data/pop.csv")
	if !ok {
		t.Fatal("Expected a metadata record")
	}
	if rec.RemoteVersionID != "v1" {
		t.Errorf("Expected version id v1, got %q", rec.RemoteVersionID)
	}
	if rec.CommitDate == nil || rec.CommitDate.Year() != 2024 {
		t.Errorf("Expected commit date recorded, got %v", rec.CommitDate)
	}
	if rec.RepoID != "1" || rec.Branch != "main" {
		t.Errorf("Record missing origin: %+v", rec)
	}

	// No leftover staging files.
	entries, _ := os.ReadDir(filepath.Dir(p))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".part-") {
			t.Errorf("Staging file left behind: %s", e.Name())
		}
	}
}

func TestMetadataSurvivesRestart(t *testing.T) {
	remote := newFakeRemote("a,b\n1,2\n", "v1")
	srv := httptest.NewServer(remote.handler())
	defer srv.Close()

	dir := t.TempDir()
	client := gitlab.NewClient(srv.URL)

	store, err := NewStore(dir, client, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.DownloadAndCache(context.Background(), "f.csv", "1", "main", "tok"); err != nil {
		t.Fatalf("DownloadAndCache failed: %v", err)
	}

	// A second store over the same directory sees the same state.
	reopened, err := NewStore(dir, client, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if !reopened.IsCached("f.csv") {
		t.Error("Cached file lost across restart")
	}
	rec, ok := reopened.Record("f.csv")
	if !ok || rec.RemoteVersionID != "v1" {
		t.Errorf("Record lost across restart: %+v ok=%v", rec, ok)
	}
}

func TestIsCached_RequiresBothHalves(t *testing.T) {
	remote := newFakeRemote("x\n1\n", "v1")
	store := newTestStore(t, remote)

	if err := store.DownloadAndCache(context.Background(), "f.csv", "1", "main", "tok"); err != nil {
		t.Fatalf("DownloadAndCache failed: %v", err)
	}

	// Delete the content behind the store's back; the record alone must
	// not count as cached.
	p, _ := store.GetCachedFile("f.csv")
	os.Remove(p)
	if store.IsCached("f.csv") {
		t.Error("Missing file should be a cache miss despite its record")
	}
}

func TestCheckForUpdates(t *testing.T) {
	remote := newFakeRemote("x\n1\n", "v1")
	store := newTestStore(t, remote)
	ctx := context.Background()

	// Unknown file always needs a download.
	if !store.CheckForUpdates(ctx, "f.csv", "tok") {
		t.Error("Unknown file should report stale")
	}

	if err := store.DownloadAndCache(ctx, "f.csv", "1", "main", "tok"); err != nil {
		t.Fatalf("DownloadAndCache failed: %v", err)
	}
	before, _ := store.Record("f.csv")

	if store.CheckForUpdates(ctx, "f.csv", "tok") {
		t.Error("Same version id should report fresh")
	}

	remote.versionID.Store("v2")
	if !store.CheckForUpdates(ctx, "f.csv", "tok") {
		t.Error("Changed version id should report stale")
	}

	after, _ := store.Record("f.csv")
	if !after.LastChecked.After(before.LastChecked) {
		t.Error("LastChecked should advance on every check")
	}
}

func TestCheckForUpdates_RemoteFailure(t *testing.T) {
	remote := newFakeRemote("x\n1\n", "v1")
	srv := httptest.NewServer(remote.handler())

	store, err := NewStore(t.TempDir(), gitlab.NewClient(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.DownloadAndCache(context.Background(), "f.csv", "1", "main", "tok"); err != nil {
		t.Fatalf("DownloadAndCache failed: %v", err)
	}

	// Remote gone: transient failure must not force a re-download.
	srv.Close()
	if store.CheckForUpdates(context.Background(), "f.csv", "tok") {
		t.Error("Fetch failure should report not-stale")
	}
}

func TestClear(t *testing.T) {
	remote := newFakeRemote("x\n1\n", "v1")
	store := newTestStore(t, remote)
	ctx := context.Background()

	for _, name := range []string{"a.csv", "b.csv"} {
		if err := store.DownloadAndCache(ctx, name, "1", "main", "tok"); err != nil {
			t.Fatalf("DownloadAndCache(%s) failed: %v", name, err)
		}
	}

	if err := store.Clear("a.csv"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if store.IsCached("a.csv") {
		t.Error("Cleared file still cached")
	}
	if !store.IsCached("b.csv") {
		t.Error("Clearing one file removed another")
	}

	if err := store.Clear(""); err != nil {
		t.Fatalf("Clear all failed: %v", err)
	}
	if store.GetInfo().FileCount != 0 {
		t.Error("Clear all left files behind")
	}
}

func TestGetInfo(t *testing.T) {
	remote := newFakeRemote("abcdef\n", "v1")
	store := newTestStore(t, remote)

	if err := store.DownloadAndCache(context.Background(), "f.csv", "1", "main", "tok"); err != nil {
		t.Fatalf("DownloadAndCache failed: %v", err)
	}

	info := store.GetInfo()
	if info.FileCount != 1 {
		t.Errorf("Expected 1 file, got %d", info.FileCount)
	}
	if len(info.Files) != 1 || info.Files[0] != "f.csv" {
		t.Errorf("Unexpected file list: %v", info.Files)
	}
	if info.TotalSizeMB <= 0 {
		t.Error("Expected nonzero total size")
	}
}

func TestUnparseableMetadataStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(dir, gitlab.NewClient("http://unused.test"), nil)
	if err != nil {
		t.Fatalf("NewStore should degrade, not fail: %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Error("Corrupt sidecar should yield an empty cache")
	}
}
