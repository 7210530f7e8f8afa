package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// NormalizeName canonicalizes a library name: trim + lower-case.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeVersion canonicalizes a version string. "latest", empty, and
// whitespace-only inputs all denote the unversioned variant ("").
func NormalizeVersion(version string) string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "latest" {
		return ""
	}
	return v
}

// ResolveVersion returns the version id for (library, version), creating
// library and version rows if absent. Case/whitespace-equivalent inputs
// resolve to the same id.
func (s *Store) ResolveVersion(ctx context.Context, library, version string) (int64, error) {
	name := NormalizeName(library)
	if name == "" {
		return 0, errors.Validation("library name must not be empty")
	}
	ver := NormalizeVersion(version)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var libID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM libraries WHERE name = ?`, name).Scan(&libID)
	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx, `INSERT INTO libraries (name) VALUES (?)`, name)
		if err != nil {
			return 0, fmt.Errorf("failed to create library %q: %w", name, err)
		}
		libID, _ = res.LastInsertId()
	} else if err != nil {
		return 0, fmt.Errorf("failed to look up library %q: %w", name, err)
	}

	var verID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM versions WHERE library_id = ? AND name = ?`, libID, ver).Scan(&verID)
	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO versions (library_id, name, status, updated_at) VALUES (?, ?, ?, ?)`,
			libID, ver, StatusNotIndexed, time.Now().UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to create version %q@%q: %w", name, ver, err)
		}
		verID, _ = res.LastInsertId()
	} else if err != nil {
		return 0, fmt.Errorf("failed to look up version %q@%q: %w", name, ver, err)
	}

	return verID, tx.Commit()
}

// GetVersionID resolves without creating. Returns a not-found error
// (with fuzzy library suggestions) when absent.
func (s *Store) GetVersionID(ctx context.Context, library, version string) (int64, error) {
	name := NormalizeName(library)
	ver := NormalizeVersion(version)

	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT v.id FROM versions v
		JOIN libraries l ON l.id = v.library_id
		WHERE l.name = ? AND v.name = ?`, name, ver).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, s.notFoundError(ctx, name, ver)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s@%s: %w", name, ver, err)
	}
	return id, nil
}

// notFoundError distinguishes a missing library (suggesting close names)
// from a missing version of a known library.
func (s *Store) notFoundError(ctx context.Context, name, ver string) error {
	var libID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM libraries WHERE name = ?`, name).Scan(&libID)
	if err == sql.ErrNoRows {
		e := errors.NotFound("library %q not found", name)
		if suggestions := s.suggestLibraries(ctx, name); len(suggestions) > 0 {
			e = e.WithDetail("suggestions", strings.Join(suggestions, ", "))
		}
		return e
	}
	if ver == "" {
		return errors.NotFound("library %q has no unversioned docs", name)
	}
	return errors.NotFound("version %q of library %q not found", ver, name)
}

// GetVersionByID loads a full version row.
func (s *Store) GetVersionByID(ctx context.Context, id int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT v.id, v.library_id, l.name, v.name, v.status,
		       v.progress_pages, v.progress_max_pages, v.source_url,
		       COALESCE(v.scraper_options, ''), v.error_message, v.started_at, v.updated_at
		FROM versions v JOIN libraries l ON l.id = v.library_id
		WHERE v.id = ?`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("version id %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version %d: %w", id, err)
	}
	return v, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var opts string
	var startedAt sql.NullTime
	err := row.Scan(&v.ID, &v.LibraryID, &v.LibraryName, &v.Name, &v.Status,
		&v.ProgressPages, &v.ProgressMaxPages, &v.SourceURL,
		&opts, &v.ErrorMessage, &startedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if opts != "" {
		v.ScraperOptions = []byte(opts)
	}
	if startedAt.Valid {
		t := startedAt.Time
		v.StartedAt = &t
	}
	return &v, nil
}

// UpdateVersionStatus applies a status transition, rejecting any pair
// outside the state machine table. errMsg is recorded for FAILED and
// cleared otherwise; started_at is stamped on entry to RUNNING if unset.
func (s *Store) UpdateVersionStatus(ctx context.Context, versionID int64, to VersionStatus, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var from VersionStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM versions WHERE id = ?`, versionID).Scan(&from)
	if err == sql.ErrNoRows {
		return errors.NotFound("version id %d not found", versionID)
	}
	if err != nil {
		return fmt.Errorf("failed to read status of version %d: %w", versionID, err)
	}

	if from != to && !CanTransition(from, to) {
		return errors.Validation("illegal status transition %s -> %s", from, to).
			WithDetail("version_id", fmt.Sprint(versionID))
	}

	now := time.Now().UTC()
	if to == StatusRunning {
		_, err = tx.ExecContext(ctx, `
			UPDATE versions SET status = ?, error_message = '',
				started_at = COALESCE(started_at, ?), updated_at = ?
			WHERE id = ?`, to, now, now, versionID)
	} else if to == StatusFailed {
		_, err = tx.ExecContext(ctx, `
			UPDATE versions SET status = ?, error_message = ?, updated_at = ?
			WHERE id = ?`, to, errMsg, now, versionID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE versions SET status = ?, error_message = '', updated_at = ?
			WHERE id = ?`, to, now, versionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update status of version %d: %w", versionID, err)
	}

	s.logger.Info("version status changed",
		slog.Int64("version_id", versionID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return tx.Commit()
}

// UpdateVersionProgress records crawl progress counters.
func (s *Store) UpdateVersionProgress(ctx context.Context, versionID int64, pages, maxPages int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE versions SET progress_pages = ?, progress_max_pages = ?, updated_at = ?
		WHERE id = ?`, pages, maxPages, time.Now().UTC(), versionID)
	if err != nil {
		return fmt.Errorf("failed to update progress of version %d: %w", versionID, err)
	}
	return nil
}

// GetVersionsByStatus returns all versions currently in any of the given
// statuses. Used by startup recovery.
func (s *Store) GetVersionsByStatus(ctx context.Context, statuses ...VersionStatus) ([]*Version, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT v.id, v.library_id, l.name, v.name, v.status,
		       v.progress_pages, v.progress_max_pages, v.source_url,
		       COALESCE(v.scraper_options, ''), v.error_message, v.started_at, v.updated_at
		FROM versions v JOIN libraries l ON l.id = v.library_id
		WHERE v.status IN (%s)
		ORDER BY v.id`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions by status: %w", err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ResetOrphaned returns versions stuck in an active status (a previous
// process died mid-job) after resetting them to QUEUED so the scheduler
// can pick them up again. started_at is preserved; this bypasses the
// transition table deliberately, recovery being the one legal exception.
func (s *Store) ResetOrphaned(ctx context.Context) ([]*Version, error) {
	orphans, err := s.GetVersionsByStatus(ctx, StatusQueued, StatusRunning, StatusUpdating)
	if err != nil {
		return nil, err
	}
	for _, v := range orphans {
		_, err := s.db.ExecContext(ctx, `
			UPDATE versions SET status = ?, updated_at = ? WHERE id = ?`,
			StatusQueued, time.Now().UTC(), v.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reset version %d: %w", v.ID, err)
		}
		v.Status = StatusQueued
		s.logger.Info("orphaned job reset",
			slog.String("library", v.LibraryName),
			slog.String("version", v.Name))
	}
	return orphans, nil
}

// StoreScraperOptions persists the source URL and the serialized scraper
// configuration needed to reproduce (or refresh) an indexing run.
func (s *Store) StoreScraperOptions(ctx context.Context, versionID int64, sourceURL string, options []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE versions SET source_url = ?, scraper_options = ?, updated_at = ?
		WHERE id = ?`, sourceURL, string(options), time.Now().UTC(), versionID)
	if err != nil {
		return fmt.Errorf("failed to store scraper options for version %d: %w", versionID, err)
	}
	return nil
}

// FindVersionsBySourceURL returns all versions whose indexing run started
// from the given URL.
func (s *Store) FindVersionsBySourceURL(ctx context.Context, url string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.library_id, l.name, v.name, v.status,
		       v.progress_pages, v.progress_max_pages, v.source_url,
		       COALESCE(v.scraper_options, ''), v.error_message, v.started_at, v.updated_at
		FROM versions v JOIN libraries l ON l.id = v.library_id
		WHERE v.source_url = ?
		ORDER BY v.id`, url)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions by source url: %w", err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ListLibraries returns all libraries with their versions, versions
// sorted descending (unversioned first, then semver descending).
func (s *Store) ListLibraries(ctx context.Context) ([]LibrarySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.name, v.name, v.status, v.progress_pages, v.progress_max_pages,
		       v.source_url, v.error_message, v.started_at,
		       (SELECT COUNT(*) FROM pages p WHERE p.version_id = v.id),
		       (SELECT COUNT(*) FROM chunks c JOIN pages p ON p.id = c.page_id WHERE p.version_id = v.id)
		FROM versions v JOIN libraries l ON l.id = v.library_id
		ORDER BY l.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	byLib := make(map[string][]VersionSummary)
	var order []string
	for rows.Next() {
		var lib string
		var vs VersionSummary
		var startedAt sql.NullTime
		if err := rows.Scan(&lib, &vs.Name, &vs.Status, &vs.ProgressPages, &vs.ProgressMax,
			&vs.SourceURL, &vs.ErrorMessage, &startedAt, &vs.PageCount, &vs.ChunkCount); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			t := startedAt.Time
			vs.IndexedAt = &t
		}
		if _, seen := byLib[lib]; !seen {
			order = append(order, lib)
		}
		byLib[lib] = append(byLib[lib], vs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]LibrarySummary, 0, len(order))
	for _, lib := range order {
		versions := byLib[lib]
		sortVersionSummariesDesc(versions)
		summaries = append(summaries, LibrarySummary{Name: lib, Versions: versions})
	}
	return summaries, nil
}

// ListVersions returns the indexed version names for a library, semver
// ascending, invalid tokens filtered. The unversioned variant is omitted
// (it has no semver identity); callers see it via FindVersion.
func (s *Store) ListVersions(ctx context.Context, library string) ([]string, error) {
	name := NormalizeName(library)
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.name FROM versions v
		JOIN libraries l ON l.id = v.library_id
		WHERE l.name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %q: %w", name, err)
	}
	defer rows.Close()

	type parsed struct {
		raw string
		sem *semver.Version
	}
	var valid []parsed
	found := false
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		found = true
		if v == "" {
			continue
		}
		if sv, err := semver.NewVersion(v); err == nil {
			valid = append(valid, parsed{raw: v, sem: sv})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, s.notFoundError(ctx, name, "?")
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].sem.LessThan(valid[j].sem) })
	names := make([]string, len(valid))
	for i, p := range valid {
		names[i] = p.raw
	}
	return names, nil
}

// FindVersion picks the best indexed version for a target. An empty or
// "latest" target selects the highest semver; an exact or x-range target
// selects the best satisfying version. HasUnversioned reports whether the
// unversioned variant exists as a fallback.
func (s *Store) FindVersion(ctx context.Context, library, target string) (*VersionMatch, error) {
	name := NormalizeName(library)
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.name FROM versions v
		JOIN libraries l ON l.id = v.library_id
		WHERE l.name = ? AND v.status = ?`, name, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to find version of %q: %w", name, err)
	}
	defer rows.Close()

	match := &VersionMatch{}
	var candidates []*semver.Version
	raw := make(map[string]string) // canonical -> original
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v == "" {
			match.HasUnversioned = true
			continue
		}
		if sv, err := semver.NewVersion(v); err == nil {
			candidates = append(candidates, sv)
			raw[sv.String()] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 && !match.HasUnversioned {
		return nil, s.notFoundError(ctx, name, NormalizeVersion(target))
	}

	tgt := NormalizeVersion(target)
	var best *semver.Version
	if tgt == "" {
		for _, c := range candidates {
			if best == nil || c.GreaterThan(best) {
				best = c
			}
		}
	} else {
		constraint, err := semver.NewConstraint(rangeFor(tgt))
		if err != nil {
			return nil, errors.Validation("invalid version target %q", target)
		}
		for _, c := range candidates {
			if constraint.Check(c) && (best == nil || c.GreaterThan(best)) {
				best = c
			}
		}
	}
	if best != nil {
		match.BestMatch = raw[best.String()]
	}
	return match, nil
}

// rangeFor widens a bare or partial version into a caret-style range, so
// "18" matches 18.x and "1.2" matches 1.2.x.
func rangeFor(target string) string {
	if strings.ContainsAny(target, "^~><=*x") {
		return target
	}
	parts := strings.Split(target, ".")
	switch len(parts) {
	case 1:
		return target + ".x"
	case 2:
		return target + ".x"
	default:
		return target
	}
}

// RemoveVersion deletes a version and its pages/chunks. Deleting the last
// version of a library deletes the library row too.
func (s *Store) RemoveVersion(ctx context.Context, library, version string) error {
	name := NormalizeName(library)
	ver := NormalizeVersion(version)

	verID, err := s.GetVersionID(ctx, name, ver)
	if err != nil {
		return err
	}

	// Drop FTS rows and vectors first; FTS5 tables are outside the
	// foreign-key cascade.
	if err := s.deleteFTSByVersion(ctx, verID); err != nil {
		return err
	}
	s.dropGraph(verID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var libID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT library_id FROM versions WHERE id = ?`, verID).Scan(&libID); err != nil {
		return fmt.Errorf("failed to read library of version %d: %w", verID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE id = ?`, verID); err != nil {
		return fmt.Errorf("failed to delete version %d: %w", verID, err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM versions WHERE library_id = ?`, libID).Scan(&remaining); err != nil {
		return fmt.Errorf("failed to count versions of library %d: %w", libID, err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, libID); err != nil {
			return fmt.Errorf("failed to delete library %d: %w", libID, err)
		}
	}

	s.logger.Info("version removed",
		slog.String("library", name),
		slog.String("version", ver),
		slog.Bool("library_deleted", remaining == 0))
	return tx.Commit()
}

// sortVersionSummariesDesc orders versions for descending listings: the
// unversioned variant first, then semver descending, then invalid tokens
// in reverse lexical order.
func sortVersionSummariesDesc(versions []VersionSummary) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i].Name, versions[j].Name
		if a == "" || b == "" {
			return a == "" && b != ""
		}
		av, aerr := semver.NewVersion(a)
		bv, berr := semver.NewVersion(b)
		switch {
		case aerr == nil && berr == nil:
			return av.GreaterThan(bv)
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			return a > b
		}
	})
}
