// Package resource implements a sync strategy for keyed resources: changed
// source resources are matched to target resources by key, their references
// are re-pointed at the target's IDs, and only real differences are written.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/livinlefevreloca/catalogsync/internal/module"
	"github.com/livinlefevreloca/catalogsync/internal/platform"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
	"github.com/livinlefevreloca/catalogsync/internal/syncer"
)

type outcome int

const (
	unchanged outcome = iota
	created
	updated
)

// Strategy synchronizes the resources of one module
type Strategy struct {
	module   module.Module
	source   platform.Client
	target   platform.Client
	pageSize int
	logger   *slog.Logger

	// target IDs by resource type and key
	ids map[platform.ResourceType]map[string]string

	// resources whose same-type parent is not in the target yet; retried
	// with every later page and settled by Flush
	held []platform.Resource
}

var (
	_ syncer.Strategy = (*Strategy)(nil)
	_ syncer.Flusher  = (*Strategy)(nil)
)

// New creates a strategy for m
func New(m module.Module, source, target platform.Client, config Config, logger *slog.Logger) (*Strategy, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown module %s", m)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Strategy{
		module:   m,
		source:   source,
		target:   target,
		pageSize: config.PageSize,
		logger:   logger.With("component", "strategy", "module", m.String()),
		ids:      make(map[platform.ResourceType]map[string]string),
	}, nil
}

// Builders returns a strategy builder for every module
func Builders(config Config) map[module.Module]syncer.StrategyBuilder {
	builders := make(map[module.Module]syncer.StrategyBuilder)
	for _, m := range module.All() {
		builders[m] = func(source, target platform.Client, logger *slog.Logger) (syncer.Strategy, error) {
			return New(m, source, target, config, logger)
		}
	}
	return builders
}

// FetchChanged pages through source resources modified within window,
// oldest first, with references expanded to keys
func (s *Strategy) FetchChanged(ctx context.Context, window syncer.TimeWindow) iter.Seq2[[]platform.Resource, error] {
	return func(yield func([]platform.Resource, error) bool) {
		s.held = nil
		offset := 0
		for {
			page, err := s.source.Query(ctx, platform.Query{
				ResourceType: s.module.ResourceType(),
				Where:        platform.Predicate{ModifiedSince: window.Start},
				Expand:       true,
				Limit:        s.pageSize,
				Offset:       offset,
			})
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page.Results) == 0 {
				return
			}
			if !yield(page.Results, nil) {
				return
			}
			if !page.HasMore() {
				return
			}
			offset += len(page.Results)
		}
	}
}

// ApplyBatch writes every resource of batch that differs from the target.
// Resources referencing another resource of the same batch are written after
// it. Resources whose same-type parent is missing from the target are held
// back and retried with later pages, since pages arrive oldest first and the
// parent may still be ahead. Query failures and non item-level command
// failures abort the batch.
func (s *Strategy) ApplyBatch(ctx context.Context, batch []platform.Resource) (stats.Statistics, error) {
	st := stats.Statistics{Processed: len(batch)}

	items := slices.Concat(s.held, batch)
	s.held = nil
	if len(items) == 0 {
		return st, nil
	}

	err := s.applyAll(ctx, items, &st, false)
	return st, err
}

// Flush makes a last attempt at every held back resource. Those still
// unresolved are counted as failed.
func (s *Strategy) Flush(ctx context.Context) (stats.Statistics, error) {
	var st stats.Statistics

	items := s.held
	s.held = nil
	if len(items) == 0 {
		return st, nil
	}

	s.logger.Debug("retrying held back resources", "count", len(items))
	err := s.applyAll(ctx, items, &st, true)
	return st, err
}

// applyAll writes items in as many passes as their same-batch references
// need. Unless final, resources waiting on a missing same-type parent are
// moved to s.held instead of failing.
func (s *Strategy) applyAll(ctx context.Context, items []platform.Resource, st *stats.Statistics, final bool) error {
	keys := make([]string, 0, len(items))
	for _, res := range items {
		if res.Key != "" {
			keys = append(keys, res.Key)
		}
	}

	existing, err := s.findTarget(ctx, s.module.ResourceType(), keys)
	if err != nil {
		return fmt.Errorf("failed to look up target resources: %w", err)
	}
	for key, res := range existing {
		s.remember(res.Type, key, res.ID)
	}

	if err := s.prefetchReferences(ctx, items); err != nil {
		return fmt.Errorf("failed to resolve references: %w", err)
	}

	pending := items
	for len(pending) > 0 {
		waiting := make(map[string]bool, len(pending))
		for _, res := range pending {
			waiting[res.Key] = true
		}

		var next []platform.Resource
		for _, res := range pending {
			out, err := s.apply(ctx, res, existing[res.Key], waiting)
			if errors.Is(err, errDeferred) {
				next = append(next, res)
				continue
			}
			delete(waiting, res.Key)

			var missing *missingParentError
			if errors.As(err, &missing) {
				if !final {
					s.held = append(s.held, res)
					continue
				}
				err = &ItemError{Key: res.Key, Reason: missing.Error()}
			}

			if err := s.tally(st, res, out, err); err != nil {
				return err
			}
		}

		if len(next) == len(pending) {
			if !final {
				s.held = append(s.held, next...)
				break
			}
			for _, res := range next {
				err := &ItemError{Key: res.Key, Reason: "references could not be resolved within the batch"}
				if err := s.tally(st, res, unchanged, err); err != nil {
					return err
				}
			}
			break
		}
		pending = next
	}

	return nil
}

func (s *Strategy) tally(st *stats.Statistics, res platform.Resource, out outcome, err error) error {
	if err != nil {
		if !IsItemError(err) {
			return err
		}
		st.Failed++
		s.logger.Warn("failed to sync resource", "key", res.Key, "error", err)
		return nil
	}

	switch out {
	case created:
		st.Created++
	case updated:
		st.Updated++
	default:
		s.logger.Debug("resource unchanged", "key", res.Key)
	}
	return nil
}

// apply writes one resource. waiting holds the keys of batch resources not
// yet written.
func (s *Strategy) apply(ctx context.Context, res platform.Resource, current *platform.Resource, waiting map[string]bool) (outcome, error) {
	if res.Key == "" {
		return unchanged, &ItemError{Key: res.ID, Reason: "resource has no key"}
	}

	if current != nil && sameReferences(current.References, res.References) && sameValue(current.Value, res.Value) {
		return unchanged, nil
	}

	refs, err := s.resolveReferences(ctx, res, waiting)
	if err != nil {
		return unchanged, err
	}

	stored, err := s.target.Execute(ctx, platform.Upsert{Draft: platform.Draft{
		Type:       res.Type,
		Container:  res.Container,
		Key:        res.Key,
		References: refs,
		Value:      res.Value,
	}})
	if err != nil {
		if itemLevel(err) {
			return unchanged, &ItemError{Key: res.Key, Reason: "rejected by target", Err: err}
		}
		return unchanged, fmt.Errorf("failed to write %s %q: %w", res.Type, res.Key, err)
	}

	s.remember(stored.Type, stored.Key, stored.ID)
	if current == nil {
		return created, nil
	}
	return updated, nil
}

func (s *Strategy) resolveReferences(ctx context.Context, res platform.Resource, waiting map[string]bool) ([]platform.Reference, error) {
	allowed := s.module.ReferenceTypes()
	refs := make([]platform.Reference, 0, len(res.References))

	for _, ref := range res.References {
		if !slices.Contains(allowed, ref.TypeID) {
			return nil, &ItemError{Key: res.Key, Reason: fmt.Sprintf("%s may not reference %s", s.module.Plural(), ref.TypeID)}
		}
		if ref.Key == "" {
			return nil, &ItemError{Key: res.Key, Reason: fmt.Sprintf("reference %s has no key", ref.Field)}
		}

		id, ok := s.ids[ref.TypeID][ref.Key]
		if !ok && ref.TypeID == res.Type && waiting[ref.Key] && ref.Key != res.Key {
			return nil, errDeferred
		}
		if !ok {
			found, err := s.findTarget(ctx, ref.TypeID, []string{ref.Key})
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s %q: %w", ref.TypeID, ref.Key, err)
			}
			target, exists := found[ref.Key]
			if !exists && ref.TypeID == res.Type && ref.Key != res.Key {
				return nil, &missingParentError{typ: ref.TypeID, key: ref.Key}
			}
			if !exists {
				return nil, &ItemError{Key: res.Key, Reason: fmt.Sprintf("referenced %s %q does not exist in the target project", ref.TypeID, ref.Key)}
			}
			id = target.ID
			s.remember(ref.TypeID, ref.Key, id)
		}

		refs = append(refs, platform.Reference{Field: ref.Field, TypeID: ref.TypeID, ID: id})
	}

	return refs, nil
}

// prefetchReferences resolves, per referenced type, every key of the batch
// that is not cached yet with a single query
func (s *Strategy) prefetchReferences(ctx context.Context, batch []platform.Resource) error {
	missing := make(map[platform.ResourceType][]string)
	for _, res := range batch {
		for _, ref := range res.References {
			if ref.Key == "" || !slices.Contains(s.module.ReferenceTypes(), ref.TypeID) {
				continue
			}
			if _, ok := s.ids[ref.TypeID][ref.Key]; ok || slices.Contains(missing[ref.TypeID], ref.Key) {
				continue
			}
			missing[ref.TypeID] = append(missing[ref.TypeID], ref.Key)
		}
	}

	for t, keys := range missing {
		found, err := s.findTarget(ctx, t, keys)
		if err != nil {
			return err
		}
		for key, res := range found {
			s.remember(t, key, res.ID)
		}
	}
	return nil
}

// findTarget returns the target resources of type t with the given keys
func (s *Strategy) findTarget(ctx context.Context, t platform.ResourceType, keys []string) (map[string]*platform.Resource, error) {
	found := make(map[string]*platform.Resource, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	page, err := s.target.Query(ctx, platform.Query{
		ResourceType: t,
		Where:        platform.Predicate{Keys: keys},
		Expand:       true,
		Limit:        len(keys),
	})
	if err != nil {
		return nil, err
	}

	for i := range page.Results {
		res := page.Results[i]
		found[res.Key] = &res
	}
	return found, nil
}

func (s *Strategy) remember(t platform.ResourceType, key, id string) {
	if s.ids[t] == nil {
		s.ids[t] = make(map[string]string)
	}
	s.ids[t][key] = id
}

func sameReferences(a, b []platform.Reference) bool {
	return slices.EqualFunc(a, b, func(x, y platform.Reference) bool {
		return x.Field == y.Field && x.TypeID == y.TypeID && x.Key == y.Key
	})
}

func sameValue(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
