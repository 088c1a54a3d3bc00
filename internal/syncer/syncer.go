// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package syncer builds package metadata documents from upstream repository
// contents and stores them in the database.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"
	"golang.org/x/sync/singleflight"

	"github.com/sapcc/packgate/internal/format"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/upstream"
)

// Syncer mirrors upstream repositories into package metadata documents.
type Syncer struct {
	db      *packgate.DB
	fetcher upstream.Fetcher
	cfg     packgate.Configuration

	// deduplicates concurrent syncs of the same repository
	group   singleflight.Group
	timeNow func() time.Time
}

// New initializes a Syncer.
func New(db *packgate.DB, fetcher upstream.Fetcher, cfg packgate.Configuration) *Syncer {
	return &Syncer{db: db, fetcher: fetcher, cfg: cfg, timeNow: time.Now}
}

// OverrideTimeNow replaces time.Now with a test double.
func (s *Syncer) OverrideTimeNow(timeNow func() time.Time) *Syncer {
	s.timeNow = timeNow
	return s
}

// SyncRepository refreshes the package metadata documents of one repository.
// Concurrent calls for the same repository are coalesced into a single sync.
// The sync result (or failure) is recorded on the repository record either
// way.
func (s *Syncer) SyncRepository(ctx context.Context, repo models.Repository) error {
	_, err, _ := s.group.Do(repo.FullName, func() (any, error) {
		return nil, s.syncRepository(ctx, repo)
	})
	recordErr := s.recordSyncResult(repo, err)
	if recordErr != nil {
		logg.Error("cannot record sync result for %s: %s", repo.FullName, recordErr.Error())
	}
	return err
}

func (s *Syncer) recordSyncResult(repo models.Repository, syncErr error) error {
	now := s.timeNow()
	nextSyncAt := now.Add(s.cfg.SyncInterval)
	lastError := ""
	if syncErr != nil {
		lastError = syncErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE repos SET last_sync_at = $1, next_sync_at = $2, last_error = $3 WHERE id = $4`,
		now, nextSyncAt, lastError, repo.ID)
	return err
}

func (s *Syncer) syncRepository(ctx context.Context, repo models.Repository) error {
	adapter, err := format.AdapterFor(repo.Format)
	if err != nil {
		return err
	}

	var refFilter *regexp.Regexp
	if repo.RefFilter != "" {
		refFilter, err = regexp.Compile(repo.RefFilter)
		if err != nil {
			return fmt.Errorf("invalid ref filter on %s: %w", repo.FullName, err)
		}
	}

	refs, err := s.fetcher.ListRefs(ctx, repo.FullName, repo.Credential)
	if err != nil {
		return err
	}

	var sources []format.VersionSource
	for _, ref := range refs {
		if refFilter != nil && !refFilter.MatchString(ref.Name) {
			continue
		}
		manifestJSON, err := s.fetcher.GetFileContent(ctx, repo.FullName, repo.Credential, ref.Name, adapter.ManifestFileName())
		if errors.Is(err, upstream.ErrNotFound) {
			// refs without a manifest file do not become package versions
			logg.Debug("skipping ref %s of %s: no %s", ref.Name, repo.FullName, adapter.ManifestFileName())
			continue
		}
		if err != nil {
			return err
		}
		sources = append(sources, format.VersionSource{Ref: ref, ManifestJSON: manifestJSON})
	}

	documents, err := adapter.BuildDocuments(repo, sources, s.cfg.APIPublicURL, s.timeNow())
	if err != nil {
		return err
	}

	return s.replaceDocuments(repo, documents)
}

var documentUpsertQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO package_documents (format, name, repo_id, document, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (format, name)
	DO UPDATE SET repo_id = EXCLUDED.repo_id, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
`)

// replaceDocuments swaps out all documents of this repository in a single
// transaction, so that package clients never observe a half-synced state.
func (s *Syncer) replaceDocuments(repo models.Repository, documents map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	_, err = tx.Exec(
		`DELETE FROM package_documents WHERE format = $1 AND repo_id = $2`,
		repo.Format, repo.ID)
	if err != nil {
		return err
	}
	now := s.timeNow()
	for name, document := range documents {
		_, err = tx.Exec(documentUpsertQuery, repo.Format, name, repo.ID, document, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// BuildDocumentsPreview renders the documents for a repository without
// writing anything to the database. This backs the dry-run mode of the sync
// command.
func (s *Syncer) BuildDocumentsPreview(ctx context.Context, repo models.Repository) (map[string]string, error) {
	adapter, err := format.AdapterFor(repo.Format)
	if err != nil {
		return nil, err
	}
	refs, err := s.fetcher.ListRefs(ctx, repo.FullName, repo.Credential)
	if err != nil {
		return nil, err
	}
	var sources []format.VersionSource
	for _, ref := range refs {
		manifestJSON, err := s.fetcher.GetFileContent(ctx, repo.FullName, repo.Credential, ref.Name, adapter.ManifestFileName())
		if errors.Is(err, upstream.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sources = append(sources, format.VersionSource{Ref: ref, ManifestJSON: manifestJSON})
	}
	return adapter.BuildDocuments(repo, sources, s.cfg.APIPublicURL, s.timeNow())
}
