// Package project implements platform.Client over a local SQLite database.
// Each database holds one project; modification times are stamped by the
// project's own clock.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"github.com/livinlefevreloca/catalogsync/internal/db"
	"github.com/livinlefevreloca/catalogsync/internal/platform"
)

// Project is a platform.Client backed by a database
type Project struct {
	key    string
	db     *db.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

var _ platform.Client = (*Project)(nil)

// New creates a client for the project stored in database
func New(key string, database *db.DB, clock clockwork.Clock, logger *slog.Logger) (*Project, error) {
	if key == "" {
		return nil, errors.New("project key is required")
	}
	if database == nil {
		return nil, fmt.Errorf("project %s: database is required", key)
	}
	return &Project{
		key:    key,
		db:     database,
		clock:  clock,
		logger: logger.With("component", "project", "project", key),
	}, nil
}

// Open opens the database described by config and returns a client for it.
// The returned close function releases the database.
func Open(key string, config db.Config, clock clockwork.Clock, logger *slog.Logger) (*Project, func() error, error) {
	database, err := db.OpenWithConfig(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open project %s: %w", key, err)
	}

	p, err := New(key, database, clock, logger)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return p, database.Close, nil
}

func (p *Project) ProjectKey() string {
	return p.key
}

// Query returns one page of resources. References are expanded to keys when
// q.Expand is set.
func (p *Project) Query(ctx context.Context, q platform.Query) (*platform.PagedResult, error) {
	if !q.ResourceType.Valid() {
		return nil, platform.NewError("query", platform.CodeInvalidInput,
			fmt.Sprintf("unknown resource type %q", q.ResourceType), nil)
	}

	rows, total, err := p.db.QueryResources(ctx, db.ResourceFilter{
		ResourceType:  string(q.ResourceType),
		Container:     q.Where.Container,
		Key:           q.Where.Key,
		Keys:          q.Where.Keys,
		IDs:           q.Where.IDs,
		ModifiedSince: q.Where.ModifiedSince,
		Limit:         q.Limit,
		Offset:        q.Offset,
	})
	if err != nil {
		return nil, p.wrap("query", err)
	}

	result := &platform.PagedResult{
		Results: make([]platform.Resource, 0, len(rows)),
		Offset:  q.Offset,
		Total:   total,
	}
	for _, row := range rows {
		res, err := toResource(row)
		if err != nil {
			return nil, p.wrap("query", err)
		}
		result.Results = append(result.Results, *res)
	}

	if q.Expand {
		if err := p.expand(ctx, result.Results); err != nil {
			return nil, p.wrap("query", err)
		}
	}

	p.logger.Debug("query", "type", q.ResourceType, "results", len(result.Results), "total", total)
	return result, nil
}

// Execute applies cmd. Only Upsert is supported.
func (p *Project) Execute(ctx context.Context, cmd platform.Command) (*platform.Resource, error) {
	upsert, ok := cmd.(platform.Upsert)
	if !ok {
		return nil, platform.NewError("execute", platform.CodeInvalidInput,
			fmt.Sprintf("unsupported command %s", platform.CommandName(cmd)), nil)
	}
	draft := upsert.Draft

	if !draft.Type.Valid() {
		return nil, platform.NewError("upsert", platform.CodeInvalidInput,
			fmt.Sprintf("unknown resource type %q", draft.Type), nil)
	}
	if draft.Key == "" {
		return nil, platform.NewError("upsert", platform.CodeInvalidInput, "key is required", nil)
	}
	if len(draft.Value) > 0 && !json.Valid(draft.Value) {
		return nil, platform.NewError("upsert", platform.CodeInvalidInput,
			fmt.Sprintf("value of %s %q is not valid JSON", draft.Type, draft.Key), nil)
	}
	if err := p.checkReferences(ctx, draft.References); err != nil {
		return nil, err
	}

	refs := make([]platform.Reference, len(draft.References))
	for i, ref := range draft.References {
		refs[i] = platform.Reference{Field: ref.Field, TypeID: ref.TypeID, ID: ref.ID}
	}
	encodedRefs, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode references: %w", err)
	}

	value := string(draft.Value)
	if value == "" {
		value = "null"
	}

	row, err := p.db.UpsertResource(ctx, &db.Resource{
		ID:             uuid.NewString(),
		ResourceType:   string(draft.Type),
		Container:      draft.Container,
		Key:            draft.Key,
		References:     string(encodedRefs),
		Value:          value,
		LastModifiedAt: p.clock.Now(),
	})
	if err != nil {
		return nil, p.wrap("upsert", err)
	}

	p.logger.Debug("upserted resource", "type", draft.Type, "key", draft.Key, "version", row.Version)
	return toResource(row)
}

// checkReferences verifies that every reference names an existing resource
// of the declared type
func (p *Project) checkReferences(ctx context.Context, refs []platform.Reference) error {
	for _, ref := range refs {
		row, err := p.db.GetResourceByID(ctx, ref.ID)
		if db.IsNotFound(err) {
			return platform.NewError("upsert", platform.CodeInvalidInput,
				fmt.Sprintf("reference %s to unknown %s %q", ref.Field, ref.TypeID, ref.ID), nil)
		}
		if err != nil {
			return p.wrap("upsert", err)
		}
		if row.ResourceType != string(ref.TypeID) {
			return platform.NewError("upsert", platform.CodeInvalidInput,
				fmt.Sprintf("reference %s expects %s but %q is a %s", ref.Field, ref.TypeID, ref.ID, row.ResourceType), nil)
		}
	}
	return nil
}

func (p *Project) expand(ctx context.Context, resources []platform.Resource) error {
	var ids []string
	for _, res := range resources {
		for _, ref := range res.References {
			ids = append(ids, ref.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	keys, err := p.db.ResourceKeys(ctx, ids)
	if err != nil {
		return err
	}
	for i := range resources {
		for j := range resources[i].References {
			resources[i].References[j].Key = keys[resources[i].References[j].ID]
		}
	}
	return nil
}

func (p *Project) wrap(op string, err error) error {
	switch {
	case db.IsConflict(err):
		return platform.NewError(op, platform.CodeConflict, "concurrent modification", err)
	case db.IsDuplicate(err):
		return platform.NewError(op, platform.CodeConflict, "resource already exists", err)
	case db.IsForeignKey(err):
		return platform.NewError(op, platform.CodeInvalidInput, "invalid reference", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return platform.NewError(op, platform.CodeDatabase, fmt.Sprintf("project %s", p.key), err)
	}
}

func toResource(row *db.Resource) (*platform.Resource, error) {
	res := &platform.Resource{
		ID:             row.ID,
		Type:           platform.ResourceType(row.ResourceType),
		Container:      row.Container,
		Key:            row.Key,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt,
		LastModifiedAt: row.LastModifiedAt,
		Value:          json.RawMessage(row.Value),
	}
	if row.References != "" {
		if err := json.Unmarshal([]byte(row.References), &res.References); err != nil {
			return nil, fmt.Errorf("malformed references of %s: %w", row.ID, err)
		}
	}
	return res, nil
}
