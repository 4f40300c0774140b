// Package gitlab is a minimal client for the GitLab repository-files
// API: tree listing, raw content, file metadata, and commit history.
// All operations return classified errors instead of raising; callers
// turn them into log entries and carry on.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/datadock/datadock/pkg/errors"
	"github.com/datadock/datadock/pkg/log"
)

const (
	// DefaultBaseURL targets gitlab.com; self-hosted instances
	// override it via config.
	DefaultBaseURL = "https://gitlab.com/api/v4"

	// metadataTimeout bounds tree/metadata/commit calls.
	metadataTimeout = 10 * time.Second
	// contentTimeout bounds raw content fetches.
	contentTimeout = 60 * time.Second
)

// Client talks to one GitLab instance.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a client for the given API base URL.
// An empty baseURL selects gitlab.com.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{},
	}
}

// treeEntry is one item of the repository tree listing.
type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// ListFiles returns the paths of every blob (file) in the branch,
// recursively. On failure it additionally queries the projects the
// token can access and attaches them to the error as a diagnostic;
// that secondary call is best-effort.
func (c *Client) ListFiles(ctx context.Context, repoID, branch, token string) ([]string, error) {
	if token == "" {
		return nil, errors.TokenMissing()
	}

	u := fmt.Sprintf("%s/projects/%s/repository/tree?ref=%s&recursive=true&per_page=100",
		c.baseURL, url.PathEscape(repoID), url.QueryEscape(branch))

	body, err := c.get(ctx, u, token, metadataTimeout)
	if err != nil {
		if derr, ok := err.(*errors.Error); ok {
			c.attachAccessibleProjects(ctx, token, derr)
		}
		return nil, err
	}

	var entries []treeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, errors.CodeRemoteStatus, "malformed tree listing")
	}

	var files []string
	for _, e := range entries {
		if e.Type == "blob" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

// FetchFile returns the raw content of one file. The project id and
// the path are percent-encoded independently since the path may itself
// contain separators.
func (c *Client) FetchFile(ctx context.Context, repoID, branch, path, token string) ([]byte, error) {
	if token == "" {
		return nil, errors.TokenMissing()
	}

	u := fmt.Sprintf("%s/projects/%s/repository/files/%s/raw?ref=%s",
		c.baseURL, url.PathEscape(repoID), url.PathEscape(path), url.QueryEscape(branch))

	body, err := c.get(ctx, u, token, contentTimeout)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// fileMetadata is the subset of the file-metadata response we use.
type fileMetadata struct {
	LastCommitID string `json:"last_commit_id"`
	BlobID       string `json:"blob_id"`
}

// FetchLatestVersionID returns an opaque identifier for the current
// remote content, for equality-based staleness checks. Prefers the
// last commit id, falls back to the blob hash.
func (c *Client) FetchLatestVersionID(ctx context.Context, repoID, branch, path, token string) (string, error) {
	if token == "" {
		return "", errors.TokenMissing()
	}

	u := fmt.Sprintf("%s/projects/%s/repository/files/%s?ref=%s",
		c.baseURL, url.PathEscape(repoID), url.PathEscape(path), url.QueryEscape(branch))

	body, err := c.get(ctx, u, token, metadataTimeout)
	if err != nil {
		return "", err
	}

	var meta fileMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", errors.Wrap(err, errors.CodeRemoteStatus, "malformed file metadata")
	}
	if meta.LastCommitID != "" {
		return meta.LastCommitID, nil
	}
	return meta.BlobID, nil
}

// commitEntry is one item of the commit history response.
type commitEntry struct {
	CommittedDate string `json:"committed_date"`
}

// FetchLatestCommitDate returns when the file last changed on the
// remote, from the newest commit touching that exact path.
func (c *Client) FetchLatestCommitDate(ctx context.Context, repoID, branch, path, token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, errors.TokenMissing()
	}

	u := fmt.Sprintf("%s/projects/%s/repository/commits?ref=%s&path=%s&per_page=1",
		c.baseURL, url.PathEscape(repoID), url.QueryEscape(branch), url.QueryEscape(path))

	body, err := c.get(ctx, u, token, metadataTimeout)
	if err != nil {
		return time.Time{}, err
	}

	var commits []commitEntry
	if err := json.Unmarshal(body, &commits); err != nil {
		return time.Time{}, errors.Wrap(err, errors.CodeRemoteStatus, "malformed commit history")
	}
	if len(commits) == 0 || commits[0].CommittedDate == "" {
		return time.Time{}, errors.New(errors.CodeNotFound, "no commits for path").WithContext("path", path)
	}

	ts, err := time.Parse(time.RFC3339, commits[0].CommittedDate)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.CodeRemoteStatus, "unparseable commit date")
	}
	return ts, nil
}

// get performs one authenticated GET and classifies failures.
func (c *Client) get(ctx context.Context, rawURL, token string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnection, "invalid request")
	}
	req.Header.Set("PRIVATE-TOKEN", token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(err, errors.CodeTimeout, "request timed out")
		}
		return nil, errors.Wrap(err, errors.CodeConnection, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain for connection reuse; the body is not part of the error.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.RemoteStatus(resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnection, "failed to read response")
	}
	return body, nil
}

// projectEntry is one item of the accessible-projects listing.
type projectEntry struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
}

// attachAccessibleProjects lists a few projects the token can reach
// and attaches them to the error for diagnosis. Failures here are
// swallowed; this call only ever adds information.
func (c *Client) attachAccessibleProjects(ctx context.Context, token string, target *errors.Error) {
	u := fmt.Sprintf("%s/projects?membership=true&per_page=5", c.baseURL)
	body, err := c.get(ctx, u, token, metadataTimeout)
	if err != nil {
		log.Debug("accessible-projects diagnostic failed: %v", err)
		return
	}

	var projects []projectEntry
	if err := json.Unmarshal(body, &projects); err != nil {
		return
	}

	accessible := make([]string, 0, len(projects))
	for _, p := range projects {
		accessible = append(accessible, fmt.Sprintf("%d:%s", p.ID, p.PathWithNamespace))
	}
	target.WithContext("accessible_projects", accessible)
}
