package gitlab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datadock/datadock/pkg/errors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestListFiles_BlobsOnly(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("PRIVATE-TOKEN"); got != "tok" {
			t.Errorf("Expected token header, got %q", got)
		}
		if !strings.Contains(r.URL.EscapedPath(), "group%2Fproj") {
			t.Errorf("Project id not path-escaped: %s", r.URL.String())
		}
		w.Write([]byte(`[
			{"path": "data/a.parquet", "type": "blob"},
			{"path": "data", "type": "tree"},
			{"path": "b.csv", "type": "blob"}
		]`))
	})

	files, err := client.ListFiles(context.Background(), "group/proj", "main", "tok")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 blobs, got %d: %v", len(files), files)
	}
	if files[0] != "data/a.parquet" || files[1] != "b.csv" {
		t.Errorf("Unexpected files: %v", files)
	}
}

func TestListFiles_EmptyToken(t *testing.T) {
	client := NewClient("http://invalid.test")
	_, err := client.ListFiles(context.Background(), "1", "main", "")
	if !errors.IsCode(err, errors.CodeTokenMissing) {
		t.Errorf("Expected E101, got %v", err)
	}
}

func TestListFiles_FailureAttachesDiagnostic(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/projects") {
			w.Write([]byte(`[{"id": 42, "path_with_namespace": "team/stats"}]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.ListFiles(context.Background(), "99", "main", "tok")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("Expected E102, got %v", err)
	}
	derr := err.(*errors.Error)
	if _, ok := derr.Context["accessible_projects"]; !ok {
		t.Error("Expected accessible_projects diagnostic on listing failure")
	}
}

func TestFetchFile(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.EscapedPath(), "data%2Fa.csv") {
			t.Errorf("File path not escaped: %s", r.URL.EscapedPath())
		}
		w.Write([]byte("id,name\n1,x\n"))
	})

	content, err := client.FetchFile(context.Background(), "1", "main", "data/a.csv", "tok")
	if err != nil {
		t.Fatalf("FetchFile failed: %v", err)
	}
	if string(content) != "id,name\n1,x\n" {
		t.Errorf("Unexpected content: %q", content)
	}
}

func TestFetchFile_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		code   errors.Code
	}{
		{404, errors.CodeNotFound},
		{401, errors.CodeUnauthorized},
		{403, errors.CodeForbidden},
		{500, errors.CodeRemoteStatus},
	}
	for _, c := range cases {
		status := c.status
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := client.FetchFile(context.Background(), "1", "main", "f.csv", "tok")
		if !errors.IsCode(err, c.code) {
			t.Errorf("Status %d: expected %s, got %v", c.status, c.code, err)
		}
	}
}

func TestFetchLatestVersionID_PrefersLastCommit(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"last_commit_id": "abc123", "blob_id": "blob456"}`))
	})

	id, err := client.FetchLatestVersionID(context.Background(), "1", "main", "f.csv", "tok")
	if err != nil {
		t.Fatalf("FetchLatestVersionID failed: %v", err)
	}
	if id != "abc123" {
		t.Errorf("Expected last_commit_id, got %q", id)
	}
}

func TestFetchLatestVersionID_BlobFallback(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"blob_id": "blob456"}`))
	})

	id, err := client.FetchLatestVersionID(context.Background(), "1", "main", "f.csv", "tok")
	if err != nil {
		t.Fatalf("FetchLatestVersionID failed: %v", err)
	}
	if id != "blob456" {
		t.Errorf("Expected blob_id fallback, got %q", id)
	}
}

func TestFetchLatestCommitDate(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "1" {
			t.Error("Expected per_page=1")
		}
		w.Write([]byte(`[{"committed_date": "2024-05-10T14:30:00+00:00"}]`))
	})

	ts, err := client.FetchLatestCommitDate(context.Background(), "1", "main", "f.csv", "tok")
	if err != nil {
		t.Fatalf("FetchLatestCommitDate failed: %v", err)
	}
	want := time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("Expected %v, got %v", want, ts)
	}
}

func TestFetchLatestCommitDate_NoCommits(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := client.FetchLatestCommitDate(context.Background(), "1", "main", "f.csv", "tok")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("Expected E102 for empty history, got %v", err)
	}
}
