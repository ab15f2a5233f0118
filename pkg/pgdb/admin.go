package pgdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tidefall/pgops/internal/metrics"
)

// RefreshMaterializedViews refreshes the named views one at a time, in
// the given order. Each refresh commits on its own, so earlier views
// stay refreshed when a later one fails. Returns the names for
// chaining.
func (h *Handle) RefreshMaterializedViews(ctx context.Context, views []string, concurrently bool) ([]string, error) {
	for _, view := range views {
		var stmt string
		if concurrently {
			stmt = fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s;", view)
		} else {
			stmt = fmt.Sprintf("REFRESH MATERIALIZED VIEW %s;", view)
		}
		if _, err := h.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("refresh materialized view %s: %w", view, err)
		}
		metrics.ViewRefreshesTotal.WithLabelValues(view).Inc()
		h.log.Info("materialized view refreshed", "view", view)
	}
	return views, nil
}

// Exists reports whether a database of the given name exists on the
// server. A connection-level failure is reported as false, so callers
// cannot distinguish "absent" from "unreachable" through this call
// alone.
func (h *Handle) Exists(ctx context.Context, database string) (bool, error) {
	// Database names are trusted input only, not parameterized.
	row, err := h.QueryRow(ctx, fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname = '%s';", database))
	if err != nil {
		if isOperationalError(err) {
			return false, nil
		}
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if isOperationalError(err) {
			return false, nil
		}
		return false, fmt.Errorf("check database %s exists: %w", database, err)
	}
	return true, nil
}

// CreateDatabase creates the named database unless it already exists.
// A concurrent creation between the check and the statement surfaces
// as a database error.
func (h *Handle) CreateDatabase(ctx context.Context, name string) error {
	exists, err := h.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		h.log.Info("database exists already, creation skipped", "database", name)
		return nil
	}
	if _, err := h.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s;", name)); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	h.log.Info("database created", "database", name)
	return nil
}
