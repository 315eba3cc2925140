package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const resourceColumns = `id, resource_type, container, resource_key, version,
	references_json, value, created_at, last_modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*Resource, error) {
	r := &Resource{}
	var createdAt, modifiedAt int64

	err := row.Scan(
		&r.ID,
		&r.ResourceType,
		&r.Container,
		&r.Key,
		&r.Version,
		&r.References,
		&r.Value,
		&createdAt,
		&modifiedAt,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedAt = fromUnixNano(createdAt)
	r.LastModifiedAt = fromUnixNano(modifiedAt)
	return r, nil
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// getResource retrieves a resource by its natural key
func getResource(ctx context.Context, q querier, resourceType, container, key string) (*Resource, error) {
	query := `SELECT ` + resourceColumns + `
		FROM resources
		WHERE resource_type = ? AND container = ? AND resource_key = ?`

	r, err := scanResource(q.QueryRowContext(ctx, query, resourceType, container, key))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetResourceByID retrieves a resource by ID
func (db *DB) GetResourceByID(ctx context.Context, id string) (*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`

	r, err := scanResource(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// createResource inserts a new resource
func createResource(ctx context.Context, q querier, r *Resource) error {
	query := `
		INSERT INTO resources (` + resourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		r.ID,
		r.ResourceType,
		r.Container,
		r.Key,
		r.Version,
		r.References,
		r.Value,
		toUnixNano(r.CreatedAt),
		toUnixNano(r.LastModifiedAt),
	)
	if IsDuplicate(err) {
		return fmt.Errorf("%w: %s/%s/%s", ErrDuplicate, r.ResourceType, r.Container, r.Key)
	}
	return err
}

// updateResource replaces the references and value of r, provided the stored
// version still equals r.Version. The stored version is incremented.
func updateResource(ctx context.Context, q querier, r *Resource) error {
	query := `
		UPDATE resources
		SET references_json = ?, value = ?, version = version + 1, last_modified_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := q.ExecContext(ctx, query,
		r.References,
		r.Value,
		toUnixNano(r.LastModifiedAt),
		r.ID,
		r.Version,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: resource %s at version %d", ErrConflict, r.ID, r.Version)
	}

	r.Version++
	return nil
}

// UpsertResource creates the resource identified by draft's natural key, or
// replaces its references and value. draft.ID is used only on creation and
// draft.LastModifiedAt is the modification instant either way. The stored
// row is returned.
func (db *DB) UpsertResource(ctx context.Context, draft *Resource) (*Resource, error) {
	var stored *Resource

	err := db.WithTransaction(ctx, func(tx *Tx) error {
		existing, err := getResource(ctx, tx, draft.ResourceType, draft.Container, draft.Key)
		if err != nil && !IsNotFound(err) {
			return err
		}

		if existing == nil {
			created := *draft
			created.Version = 1
			created.CreatedAt = draft.LastModifiedAt
			if err := createResource(ctx, tx, &created); err != nil {
				return err
			}
			stored = &created
			return nil
		}

		existing.References = draft.References
		existing.Value = draft.Value
		existing.LastModifiedAt = draft.LastModifiedAt
		if err := updateResource(ctx, tx, existing); err != nil {
			return err
		}
		stored = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

func buildResourceWhere(f ResourceFilter) (string, []any) {
	clauses := []string{"resource_type = ?"}
	args := []any{f.ResourceType}

	if f.Container != "" {
		clauses = append(clauses, "container = ?")
		args = append(args, f.Container)
	}
	if f.Key != "" {
		clauses = append(clauses, "resource_key = ?")
		args = append(args, f.Key)
	}
	if len(f.Keys) > 0 {
		clauses = append(clauses, "resource_key IN ("+placeholders(len(f.Keys))+")")
		for _, k := range f.Keys {
			args = append(args, k)
		}
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if !f.ModifiedSince.IsZero() {
		clauses = append(clauses, "last_modified_at >= ?")
		args = append(args, toUnixNano(f.ModifiedSince))
	}

	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// QueryResources returns one page of resources matching f, ordered by last
// modification then ID, together with the total number of matches.
func (db *DB) QueryResources(ctx context.Context, f ResourceFilter) ([]*Resource, int, error) {
	where, args := buildResourceWhere(f)

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resources WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + resourceColumns + `
		FROM resources
		WHERE ` + where + `
		ORDER BY last_modified_at, id`

	pageArgs := append([]any{}, args...)
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		pageArgs = append(pageArgs, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		pageArgs = append(pageArgs, f.Offset)
	}

	rows, err := db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, 0, err
		}
		resources = append(resources, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return resources, total, nil
}

// ResourceKeys maps each of the given IDs that exists to its resource key
func (db *DB) ResourceKeys(ctx context.Context, ids []string) (map[string]string, error) {
	keys := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return keys, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, resource_key FROM resources WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		keys[id] = key
	}

	return keys, rows.Err()
}
