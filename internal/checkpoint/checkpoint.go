// Package checkpoint persists the last successful sync of each module as a
// key-value document in the target project, and derives "now" from the
// target project's clock rather than the local one.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/catalogsync/internal/platform"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
)

const (
	// DefaultNamespace prefixes every checkpoint container
	DefaultNamespace = "catalog-sync"

	// DefaultRunnerName replaces an empty runner name
	DefaultRunnerName = "runnerName"

	// SkewBuffer is subtracted from anchors and checkpoints so that
	// resources modified around a sync boundary are seen again.
	SkewBuffer = 2 * time.Minute

	AnchorContainerSuffix = "timestampGenerator"
	AnchorKey             = "latestTimestamp"
)

// Record is the last successful sync of one module for one source project.
// Only the timestamp, statistics and duration are stored in the document.
type Record struct {
	OwnerKey       string           `json:"-"`
	Module         string           `json:"-"`
	Timestamp      time.Time        `json:"lastSyncTimestamp"`
	Statistics     stats.Statistics `json:"lastSyncStatistics"`
	DurationMillis int64            `json:"lastSyncDurationInMillis"`
}

// Store reads and writes checkpoint documents through a platform client
type Store struct {
	client    platform.Client
	namespace string
	logger    *slog.Logger
}

// NewStore creates a checkpoint store. An empty namespace means DefaultNamespace.
func NewStore(client platform.Client, namespace string, logger *slog.Logger) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// NormalizeRunnerName maps the empty name to DefaultRunnerName. Any other
// name, whitespace included, is used verbatim.
func NormalizeRunnerName(runnerName string) string {
	if runnerName == "" {
		return DefaultRunnerName
	}
	return runnerName
}

// Container returns "<namespace>.<runner>.<suffix>"
func (s *Store) Container(runnerName, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", s.namespace, NormalizeRunnerName(runnerName), suffix)
}

// CurrentAnchor writes a fresh value to the anchor document and returns the
// instant the platform stamped on it, minus SkewBuffer. Errors from the
// platform are returned unchanged.
func (s *Store) CurrentAnchor(ctx context.Context, runnerName string) (time.Time, error) {
	value, err := json.Marshal(uuid.NewString())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to encode anchor document: %w", err)
	}

	res, err := s.client.Execute(ctx, platform.Upsert{Draft: platform.Draft{
		Type:      platform.KeyValueDocuments,
		Container: s.Container(runnerName, AnchorContainerSuffix),
		Key:       AnchorKey,
		Value:     value,
	}})
	if err != nil {
		return time.Time{}, err
	}

	anchor := res.LastModifiedAt.Add(-SkewBuffer)
	s.logger.Debug("captured sync anchor",
		"runner", NormalizeRunnerName(runnerName),
		"platform_time", res.LastModifiedAt,
		"anchor", anchor)

	return anchor, nil
}

// LastRecord returns the checkpoint for (ownerKey, moduleName, runnerName),
// or nil when the module has never completed a sync. Errors from the
// platform are returned unchanged.
func (s *Store) LastRecord(ctx context.Context, ownerKey, moduleName, runnerName string) (*Record, error) {
	res, err := platform.FindOne(ctx, s.client, platform.Query{
		ResourceType: platform.KeyValueDocuments,
		Where: platform.Predicate{
			Container: s.Container(runnerName, moduleName),
			Key:       ownerKey,
		},
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	return decodeRecord(res, ownerKey, moduleName)
}

// CreateRecord upserts the checkpoint for (ownerKey, moduleName, runnerName),
// replacing any previous one, and returns the stored record. Errors from the
// platform are returned unchanged.
func (s *Store) CreateRecord(ctx context.Context, ownerKey, moduleName, runnerName string, rec Record) (*Record, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint for %s: %w", moduleName, err)
	}

	res, err := s.client.Execute(ctx, platform.Upsert{Draft: platform.Draft{
		Type:      platform.KeyValueDocuments,
		Container: s.Container(runnerName, moduleName),
		Key:       ownerKey,
		Value:     value,
	}})
	if err != nil {
		return nil, err
	}

	return decodeRecord(res, ownerKey, moduleName)
}

func decodeRecord(res *platform.Resource, ownerKey, moduleName string) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal(res.Value, rec); err != nil {
		return nil, fmt.Errorf("malformed checkpoint %s/%s: %w", res.Container, res.Key, err)
	}
	rec.OwnerKey = ownerKey
	rec.Module = moduleName
	return rec, nil
}
