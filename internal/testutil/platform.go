package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/catalogsync/internal/platform"
)

// FakePlatform is an in-memory platform.Client. Modification times come from
// the injected clock; errors can be injected per resource type.
type FakePlatform struct {
	mu         sync.Mutex
	projectKey string
	clock      clockwork.Clock
	resources  []*platform.Resource
	nextID     int

	queryErrs     map[platform.ResourceType]error
	executeErrs   map[platform.ResourceType]error
	containerErrs map[string]error

	queries  []platform.Query
	commands []platform.Command
}

var _ platform.Client = (*FakePlatform)(nil)

func NewFakePlatform(projectKey string, clock clockwork.Clock) *FakePlatform {
	return &FakePlatform{
		projectKey:    projectKey,
		clock:         clock,
		queryErrs:     make(map[platform.ResourceType]error),
		executeErrs:   make(map[platform.ResourceType]error),
		containerErrs: make(map[string]error),
	}
}

func (f *FakePlatform) ProjectKey() string {
	return f.projectKey
}

// FailQueries makes every query for t fail with err. A nil err clears it.
func (f *FakePlatform) FailQueries(t platform.ResourceType, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErrs[t] = err
}

// FailCommands makes every command on t fail with err. A nil err clears it.
func (f *FakePlatform) FailCommands(t platform.ResourceType, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeErrs[t] = err
}

// FailContainer makes every command writing into container fail with err,
// whatever the resource type. A nil err clears it.
func (f *FakePlatform) FailContainer(container string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containerErrs[container] = err
}

// Seed stores res as-is, assigning an ID and version when missing
func (f *FakePlatform) Seed(res platform.Resource) *platform.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := cloneResource(&res)
	if stored.ID == "" {
		stored.ID = f.newID()
	}
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.LastModifiedAt
	}
	f.resources = append(f.resources, stored)
	return cloneResource(stored)
}

// Get returns a copy of the resource with the given natural key, or nil
func (f *FakePlatform) Get(t platform.ResourceType, container, key string) *platform.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r := f.find(t, container, key); r != nil {
		return cloneResource(r)
	}
	return nil
}

// All returns copies of every stored resource of type t
func (f *FakePlatform) All(t platform.ResourceType) []platform.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []platform.Resource
	for _, r := range f.resources {
		if r.Type == t {
			out = append(out, *cloneResource(r))
		}
	}
	return out
}

func (f *FakePlatform) Queries() []platform.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.queries)
}

func (f *FakePlatform) Commands() []platform.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

// CallCount is the total number of queries and commands received
func (f *FakePlatform) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries) + len(f.commands)
}

func (f *FakePlatform) Query(ctx context.Context, q platform.Query) (*platform.PagedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if err := f.queryErrs[q.ResourceType]; err != nil {
		return nil, err
	}

	var matches []*platform.Resource
	for _, r := range f.resources {
		if r.Type == q.ResourceType && matchesPredicate(r, q.Where) {
			matches = append(matches, r)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].LastModifiedAt.Equal(matches[j].LastModifiedAt) {
			return matches[i].LastModifiedAt.Before(matches[j].LastModifiedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	result := &platform.PagedResult{Offset: q.Offset, Total: len(matches)}
	end := len(matches)
	if q.Limit > 0 {
		end = min(end, q.Offset+q.Limit)
	}
	for i := q.Offset; i < end; i++ {
		res := cloneResource(matches[i])
		if q.Expand {
			f.expand(res)
		}
		result.Results = append(result.Results, *res)
	}

	return result, nil
}

func (f *FakePlatform) Execute(ctx context.Context, cmd platform.Command) (*platform.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, cmd)

	upsert, ok := cmd.(platform.Upsert)
	if !ok {
		return nil, platform.NewError("execute", platform.CodeInvalidInput,
			fmt.Sprintf("unsupported command %s", platform.CommandName(cmd)), nil)
	}
	draft := upsert.Draft

	if err := f.executeErrs[draft.Type]; err != nil {
		return nil, err
	}
	if err := f.containerErrs[draft.Container]; err != nil {
		return nil, err
	}
	for _, ref := range draft.References {
		if target := f.byID(ref.ID); target == nil || target.Type != ref.TypeID {
			return nil, platform.NewError("upsert", platform.CodeInvalidInput,
				fmt.Sprintf("reference %s to unknown %s %q", ref.Field, ref.TypeID, ref.ID), nil)
		}
	}

	now := f.clock.Now()
	existing := f.find(draft.Type, draft.Container, draft.Key)
	if existing == nil {
		existing = &platform.Resource{
			ID:        f.newID(),
			Type:      draft.Type,
			Container: draft.Container,
			Key:       draft.Key,
			CreatedAt: now,
		}
		f.resources = append(f.resources, existing)
	}

	existing.Version++
	existing.LastModifiedAt = now
	existing.References = stripKeys(draft.References)
	existing.Value = slices.Clone(draft.Value)

	return cloneResource(existing), nil
}

func (f *FakePlatform) newID() string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", f.projectKey, f.nextID)
}

func (f *FakePlatform) find(t platform.ResourceType, container, key string) *platform.Resource {
	for _, r := range f.resources {
		if r.Type == t && r.Container == container && r.Key == key {
			return r
		}
	}
	return nil
}

func (f *FakePlatform) byID(id string) *platform.Resource {
	for _, r := range f.resources {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *FakePlatform) expand(res *platform.Resource) {
	for i, ref := range res.References {
		if target := f.byID(ref.ID); target != nil {
			res.References[i].Key = target.Key
		}
	}
}

func matchesPredicate(r *platform.Resource, p platform.Predicate) bool {
	if p.Container != "" && r.Container != p.Container {
		return false
	}
	if p.Key != "" && r.Key != p.Key {
		return false
	}
	if len(p.Keys) > 0 && !slices.Contains(p.Keys, r.Key) {
		return false
	}
	if len(p.IDs) > 0 && !slices.Contains(p.IDs, r.ID) {
		return false
	}
	if !p.ModifiedSince.IsZero() && r.LastModifiedAt.Before(p.ModifiedSince) {
		return false
	}
	return true
}

func stripKeys(refs []platform.Reference) []platform.Reference {
	out := make([]platform.Reference, len(refs))
	for i, ref := range refs {
		ref.Key = ""
		out[i] = ref
	}
	return out
}

func cloneResource(r *platform.Resource) *platform.Resource {
	c := *r
	c.References = slices.Clone(r.References)
	c.Value = slices.Clone(r.Value)
	return &c
}

// MustJSON marshals v or panics. For building test fixtures.
func MustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
