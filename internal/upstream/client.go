// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package upstream talks to the Git host that the mirrored repositories live
// on. It exposes exactly the three operations that the metadata sync needs,
// so that tests can substitute a double easily.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ref is one branch or tag of an upstream repository.
type Ref struct {
	// Name is the plain ref name, e.g. "main" or "v1.2.3".
	Name string
	// IsTag distinguishes tags from branches.
	IsTag bool
	// CommitSHA is the commit that the ref points to.
	CommitSHA string
}

// Fetcher lists refs and fetches file contents from an upstream Git host.
type Fetcher interface {
	// ListRefs returns all branches and tags of the given repository.
	ListRefs(ctx context.Context, fullName, credential string) ([]Ref, error)
	// GetFileContent returns the contents of a file at the given ref.
	// Returns ErrNotFound if the file does not exist at this ref.
	GetFileContent(ctx context.Context, fullName, credential, ref, path string) ([]byte, error)
	// DownloadArchive streams an archive of the repository at the given ref.
	// `format` is the archive file extension, e.g. "zip" or "tar.gz".
	// Returns ErrNotFound if the repository or ref does not exist.
	DownloadArchive(ctx context.Context, fullName, credential, ref, format string) (io.ReadCloser, error)
}

// ErrNotFound is returned when the upstream reports that a repository, ref
// or file does not exist.
var ErrNotFound = errors.New("not found on upstream")

// Client is a Fetcher that talks to a Gitea-compatible REST API.
type Client struct {
	BaseURL    url.URL
	HTTPClient *http.Client
}

// NewClient initializes a Client for the given API base URL.
func NewClient(baseURL url.URL, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) doRequest(ctx context.Context, credential, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, err
	}
	if credential != "" {
		req.Header.Set("Authorization", "token "+credential)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GET %s: expected 200, got %s", uri, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) apiURL(elements ...string) string {
	u := c.BaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/" + strings.Join(elements, "/")
	return u.String()
}

// ListRefs implements the Fetcher interface.
func (c *Client) ListRefs(ctx context.Context, fullName, credential string) ([]Ref, error) {
	var result []Ref

	buf, err := c.doRequest(ctx, credential, c.apiURL("repos", fullName, "branches"))
	if err != nil {
		return nil, fmt.Errorf("cannot list branches of %s: %w", fullName, err)
	}
	var branches []struct {
		Name   string `json:"name"`
		Commit struct {
			ID string `json:"id"`
		} `json:"commit"`
	}
	err = json.Unmarshal(buf, &branches)
	if err != nil {
		return nil, fmt.Errorf("cannot parse branch list of %s: %w", fullName, err)
	}
	for _, b := range branches {
		result = append(result, Ref{Name: b.Name, IsTag: false, CommitSHA: b.Commit.ID})
	}

	buf, err = c.doRequest(ctx, credential, c.apiURL("repos", fullName, "tags"))
	if err != nil {
		return nil, fmt.Errorf("cannot list tags of %s: %w", fullName, err)
	}
	var tags []struct {
		Name   string `json:"name"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	err = json.Unmarshal(buf, &tags)
	if err != nil {
		return nil, fmt.Errorf("cannot parse tag list of %s: %w", fullName, err)
	}
	for _, t := range tags {
		result = append(result, Ref{Name: t.Name, IsTag: true, CommitSHA: t.Commit.SHA})
	}

	return result, nil
}

// GetFileContent implements the Fetcher interface.
func (c *Client) GetFileContent(ctx context.Context, fullName, credential, ref, path string) ([]byte, error) {
	uri := c.apiURL("repos", fullName, "raw", path) + "?ref=" + url.QueryEscape(ref)
	buf, err := c.doRequest(ctx, credential, uri)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("cannot read %s at %s of %s: %w", path, ref, fullName, err)
	}
	return buf, err
}

// DownloadArchive implements the Fetcher interface.
func (c *Client) DownloadArchive(ctx context.Context, fullName, credential, ref, format string) (io.ReadCloser, error) {
	uri := c.apiURL("repos", fullName, "archive", url.PathEscape(ref)+"."+format)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, err
	}
	if credential != "" {
		req.Header.Set("Authorization", "token "+credential)
	}

	resp, err := c.HTTPClient.Do(req) //nolint:bodyclose // closed by the caller
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: expected 200, got %s", uri, resp.Status)
	}
	return resp.Body, nil
}
