// Package platform describes the capability the sync engine needs from a
// commerce project: paged queries and upsert commands over typed resources.
package platform

import (
	"context"
	"encoding/json"
	"time"
)

// ResourceType identifies a kind of resource stored in a project
type ResourceType string

const (
	ProductTypes     ResourceType = "product-type"
	Types            ResourceType = "type"
	Categories       ResourceType = "category"
	Products         ResourceType = "product"
	InventoryEntries ResourceType = "inventory-entry"

	// KeyValueDocuments are free-form documents addressed by (container, key).
	KeyValueDocuments ResourceType = "key-value-document"
)

// Valid reports whether t is a known resource type
func (t ResourceType) Valid() bool {
	switch t {
	case ProductTypes, Types, Categories, Products, InventoryEntries, KeyValueDocuments:
		return true
	}
	return false
}

// Reference points from one resource to another. Drafts carry the target ID;
// expanded query results also carry the referenced resource's key.
type Reference struct {
	Field  string       `json:"field"`
	TypeID ResourceType `json:"typeId"`
	ID     string       `json:"id,omitempty"`
	Key    string       `json:"key,omitempty"`
}

// Resource is a stored resource as returned by a project
type Resource struct {
	ID             string
	Type           ResourceType
	Container      string
	Key            string
	Version        int64
	CreatedAt      time.Time
	LastModifiedAt time.Time
	References     []Reference
	Value          json.RawMessage
}

// Draft is the desired state of a resource
type Draft struct {
	Type       ResourceType
	Container  string
	Key        string
	References []Reference
	Value      json.RawMessage
}

// Predicate narrows a query. Zero-valued fields do not filter.
type Predicate struct {
	Key           string
	Keys          []string
	IDs           []string
	Container     string
	ModifiedSince time.Time
}

// Query selects resources of one type, ordered by last modification then ID
type Query struct {
	ResourceType ResourceType
	Where        Predicate

	// Expand resolves reference keys in the returned resources.
	Expand bool

	Limit  int
	Offset int
}

// PagedResult is one page of query results
type PagedResult struct {
	Results []Resource
	Offset  int
	Total   int
}

// HasMore reports whether further pages exist after this one
func (p *PagedResult) HasMore() bool {
	return p.Offset+len(p.Results) < p.Total
}

// Command is a write operation executed against a project
type Command interface {
	commandName() string
}

// Upsert creates the resource identified by the draft's (type, container, key)
// or replaces its references and value when it already exists.
type Upsert struct {
	Draft Draft
}

func (Upsert) commandName() string { return "upsert" }

// CommandName returns a short name for logging
func CommandName(cmd Command) string {
	if cmd == nil {
		return "nil"
	}
	return cmd.commandName()
}

// Client is the capability a project exposes to the sync engine
type Client interface {
	// ProjectKey identifies the project the client is bound to.
	ProjectKey() string

	Query(ctx context.Context, q Query) (*PagedResult, error)
	Execute(ctx context.Context, cmd Command) (*Resource, error)
}

// FindOne runs q with a limit of one and returns the first result, or nil
// when nothing matches.
func FindOne(ctx context.Context, c Client, q Query) (*Resource, error) {
	q.Limit = 1
	q.Offset = 0

	page, err := c.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, nil
	}

	res := page.Results[0]
	return &res, nil
}
