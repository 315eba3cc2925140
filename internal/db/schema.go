package db

import "time"

// Resource is a row of the resources table. References and Value hold JSON.
type Resource struct {
	ID             string
	ResourceType   string
	Container      string
	Key            string
	Version        int64
	References     string
	Value          string
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// ResourceFilter selects rows of a single resource type. Zero-valued fields
// do not filter.
type ResourceFilter struct {
	ResourceType  string
	Container     string
	Key           string
	Keys          []string
	IDs           []string
	ModifiedSince time.Time
	Limit         int
	Offset        int
}

// SyncRun records the outcome of one module within one orchestrator run
type SyncRun struct {
	RunID     string
	Module    string
	Status    string
	Processed int
	Created   int
	Updated   int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
	Error     *string
}
