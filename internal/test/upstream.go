// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sapcc/packgate/internal/upstream"
)

// UpstreamDouble is a test recorder that satisfies the upstream.Fetcher
// interface. Repositories, refs, files and archives are declared up front
// with the Add/Set methods.
type UpstreamDouble struct {
	refs     map[string][]upstream.Ref
	files    map[string][]byte
	archives map[string][]byte
	// Credentials records the credential presented with each request, keyed
	// by repository full name.
	Credentials map[string]string
}

// NewUpstreamDouble initializes an UpstreamDouble.
func NewUpstreamDouble() *UpstreamDouble {
	return &UpstreamDouble{
		refs:        make(map[string][]upstream.Ref),
		files:       make(map[string][]byte),
		archives:    make(map[string][]byte),
		Credentials: make(map[string]string),
	}
}

// AddRepo declares a repository with the given refs. Replaces any earlier
// declaration of the same repository.
func (d *UpstreamDouble) AddRepo(fullName string, refs ...upstream.Ref) {
	d.refs[fullName] = refs
}

// SetFile declares the contents of a file at the given ref.
func (d *UpstreamDouble) SetFile(fullName, refName, path string, contents []byte) {
	d.files[fmt.Sprintf("%s@%s:%s", fullName, refName, path)] = contents
}

// SetArchive declares the contents of an archive of the given ref.
func (d *UpstreamDouble) SetArchive(fullName, refName, archiveFormat string, contents []byte) {
	d.archives[fmt.Sprintf("%s@%s.%s", fullName, refName, archiveFormat)] = contents
}

// ListRefs implements the upstream.Fetcher interface.
func (d *UpstreamDouble) ListRefs(ctx context.Context, fullName, credential string) ([]upstream.Ref, error) {
	d.Credentials[fullName] = credential
	refs, exists := d.refs[fullName]
	if !exists {
		return nil, upstream.ErrNotFound
	}
	return refs, nil
}

// GetFileContent implements the upstream.Fetcher interface.
func (d *UpstreamDouble) GetFileContent(ctx context.Context, fullName, credential, ref, path string) ([]byte, error) {
	d.Credentials[fullName] = credential
	contents, exists := d.files[fmt.Sprintf("%s@%s:%s", fullName, ref, path)]
	if !exists {
		return nil, upstream.ErrNotFound
	}
	return contents, nil
}

// DownloadArchive implements the upstream.Fetcher interface.
func (d *UpstreamDouble) DownloadArchive(ctx context.Context, fullName, credential, ref, format string) (io.ReadCloser, error) {
	d.Credentials[fullName] = credential
	contents, exists := d.archives[fmt.Sprintf("%s@%s.%s", fullName, ref, format)]
	if !exists {
		return nil, upstream.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(contents)), nil
}
