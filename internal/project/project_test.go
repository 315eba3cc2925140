package project

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/catalogsync/internal/checkpoint"
	"github.com/livinlefevreloca/catalogsync/internal/db"
	"github.com/livinlefevreloca/catalogsync/internal/module"
	"github.com/livinlefevreloca/catalogsync/internal/orchestrator"
	"github.com/livinlefevreloca/catalogsync/internal/platform"
	"github.com/livinlefevreloca/catalogsync/internal/resource"
	"github.com/livinlefevreloca/catalogsync/internal/syncer"
	"github.com/livinlefevreloca/catalogsync/internal/testutil"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestProject(t *testing.T, key string, clock clockwork.Clock) *Project {
	t.Helper()

	p, closeDB, err := Open(key, db.Config{Driver: "sqlite3", DSN: ":memory:"}, clock, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { closeDB() })
	return p
}

func upsert(t *testing.T, p *Project, typ platform.ResourceType, key string, refs ...platform.Reference) *platform.Resource {
	t.Helper()

	res, err := p.Execute(context.Background(), platform.Upsert{Draft: platform.Draft{
		Type:       typ,
		Key:        key,
		References: refs,
		Value:      testutil.MustJSON(map[string]string{"name": key}),
	}})
	require.NoError(t, err)
	return res
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", nil, clockwork.NewFakeClock(), slog.New(slog.DiscardHandler))
	assert.Error(t, err)

	_, err = New("p", nil, clockwork.NewFakeClock(), slog.New(slog.DiscardHandler))
	assert.ErrorContains(t, err, "database is required")
}

func TestExecute_CreateThenUpdate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	p := newTestProject(t, "p", clock)
	assert.Equal(t, "p", p.ProjectKey())

	created := upsert(t, p, platform.Types, "fields")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.True(t, created.CreatedAt.Equal(t0))
	assert.True(t, created.LastModifiedAt.Equal(t0))
	assert.JSONEq(t, `{"name":"fields"}`, string(created.Value))

	clock.Advance(time.Minute)
	res, err := p.Execute(context.Background(), platform.Upsert{Draft: platform.Draft{
		Type:  platform.Types,
		Key:   "fields",
		Value: testutil.MustJSON(map[string]string{"name": "renamed"}),
	}})
	require.NoError(t, err)

	assert.Equal(t, created.ID, res.ID)
	assert.Equal(t, int64(2), res.Version)
	assert.True(t, res.CreatedAt.Equal(t0))
	assert.True(t, res.LastModifiedAt.Equal(t0.Add(time.Minute)))
	assert.JSONEq(t, `{"name":"renamed"}`, string(res.Value))
}

func TestExecute_Rejections(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	p := newTestProject(t, "p", clock)
	typ := upsert(t, p, platform.Types, "fields")

	tests := []struct {
		name  string
		draft platform.Draft
	}{
		{"unknown type", platform.Draft{Type: "order", Key: "k"}},
		{"missing key", platform.Draft{Type: platform.Categories}},
		{"invalid value", platform.Draft{Type: platform.Categories, Key: "k", Value: []byte("{")}},
		{"unknown reference", platform.Draft{Type: platform.Categories, Key: "k",
			References: []platform.Reference{{Field: "custom.type", TypeID: platform.Types, ID: "missing"}}}},
		{"wrong reference type", platform.Draft{Type: platform.Categories, Key: "k",
			References: []platform.Reference{{Field: "parent", TypeID: platform.Categories, ID: typ.ID}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Execute(context.Background(), platform.Upsert{Draft: tt.draft})
			require.Error(t, err)
			assert.Equal(t, platform.CodeInvalidInput, platform.CodeOf(err))
		})
	}

	_, n, err := p.db.QueryResources(context.Background(), db.ResourceFilter{ResourceType: string(platform.Categories)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQuery(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	p := newTestProject(t, "p", clock)
	ctx := context.Background()

	typ := upsert(t, p, platform.Types, "fields")
	for _, key := range []string{"a", "b", "c"} {
		clock.Advance(time.Minute)
		upsert(t, p, platform.Categories, key, platform.Reference{Field: "custom.type", TypeID: platform.Types, ID: typ.ID})
	}

	t.Run("paging", func(t *testing.T) {
		page, err := p.Query(ctx, platform.Query{ResourceType: platform.Categories, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Results, 2)
		assert.Equal(t, "a", page.Results[0].Key)
		assert.True(t, page.HasMore())

		page, err = p.Query(ctx, platform.Query{ResourceType: platform.Categories, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, "c", page.Results[0].Key)
		assert.False(t, page.HasMore())
	})

	t.Run("modified since", func(t *testing.T) {
		page, err := p.Query(ctx, platform.Query{
			ResourceType: platform.Categories,
			Where:        platform.Predicate{ModifiedSince: t0.Add(2 * time.Minute)},
		})
		require.NoError(t, err)
		require.Len(t, page.Results, 2)
		assert.Equal(t, "b", page.Results[0].Key)
	})

	t.Run("keys", func(t *testing.T) {
		page, err := p.Query(ctx, platform.Query{
			ResourceType: platform.Categories,
			Where:        platform.Predicate{Keys: []string{"c", "missing"}},
		})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, "c", page.Results[0].Key)
	})

	t.Run("expand", func(t *testing.T) {
		page, err := p.Query(ctx, platform.Query{
			ResourceType: platform.Categories,
			Where:        platform.Predicate{Key: "a"},
			Expand:       true,
		})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		require.Len(t, page.Results[0].References, 1)
		assert.Equal(t, platform.Reference{Field: "custom.type", TypeID: platform.Types, ID: typ.ID, Key: "fields"},
			page.Results[0].References[0])

		page, err = p.Query(ctx, platform.Query{ResourceType: platform.Categories, Where: platform.Predicate{Key: "a"}})
		require.NoError(t, err)
		assert.Empty(t, page.Results[0].References[0].Key)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := p.Query(ctx, platform.Query{ResourceType: "order"})
		assert.Equal(t, platform.CodeInvalidInput, platform.CodeOf(err))
	})
}

func TestQuery_ClosedDatabase(t *testing.T) {
	database, err := db.OpenWithConfig(db.Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	p, err := New("p", database, clockwork.NewFakeClockAt(t0), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, database.Close())

	_, err = p.Query(context.Background(), platform.Query{ResourceType: platform.Types})
	require.Error(t, err)
	assert.Equal(t, platform.CodeDatabase, platform.CodeOf(err))
}

func TestCheckpointStore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	p := newTestProject(t, "dst", clock)
	store := checkpoint.NewStore(p, "", slog.New(slog.DiscardHandler))
	ctx := context.Background()

	rec, err := store.LastRecord(ctx, "src", module.Type.CheckpointName(), "")
	require.NoError(t, err)
	assert.Nil(t, rec)

	anchor, err := store.CurrentAnchor(ctx, "")
	require.NoError(t, err)
	assert.True(t, anchor.Equal(t0.Add(-checkpoint.SkewBuffer)))

	_, err = store.CreateRecord(ctx, "src", module.Type.CheckpointName(), "", checkpoint.Record{Timestamp: anchor})
	require.NoError(t, err)

	rec, err = store.LastRecord(ctx, "src", module.Type.CheckpointName(), "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Timestamp.Equal(anchor))
}

// TestSyncBetweenProjects runs every module from one database-backed project
// into another and checks that a second run has nothing left to do
func TestSyncBetweenProjects(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0.Add(-time.Hour))
	source := newTestProject(t, "src", clock)
	target := newTestProject(t, "dst", clock)

	productType := upsert(t, source, platform.ProductTypes, "shirt")
	typ := upsert(t, source, platform.Types, "fields")
	typeRef := platform.Reference{Field: "custom.type", TypeID: platform.Types, ID: typ.ID}
	men := upsert(t, source, platform.Categories, "men", typeRef)
	shirts := upsert(t, source, platform.Categories, "shirts", typeRef,
		platform.Reference{Field: "parent", TypeID: platform.Categories, ID: men.ID})
	upsert(t, source, platform.Products, "oxford",
		platform.Reference{Field: "productType", TypeID: platform.ProductTypes, ID: productType.ID},
		platform.Reference{Field: "categories", TypeID: platform.Categories, ID: shirts.ID})
	upsert(t, source, platform.InventoryEntries, "oxford-m", typeRef)

	clock.Advance(time.Hour)

	logs := testutil.NewTestLogger()
	factory := syncer.NewFactory(
		syncer.StaticProvider(source),
		syncer.StaticProvider(target),
		clock,
		resource.Builders(resource.DefaultConfig()),
		syncer.DefaultConfig(),
		logs.Logger(),
	)
	o := orchestrator.NewOrchestrator(factory, orchestrator.PolicyContinue, clock, logs.Logger())

	outcomes, err := o.Run(context.Background(), []string{"all"})
	require.NoError(t, err)
	require.False(t, orchestrator.Failed(outcomes))
	assert.False(t, logs.HasError())
	assert.False(t, logs.HasWarning())

	processed := map[module.Module]int{}
	for _, out := range outcomes {
		processed[out.Module] = out.Statistics.Processed
		assert.Equal(t, out.Statistics.Processed, out.Statistics.Created, out.Module.String())
	}
	assert.Equal(t, map[module.Module]int{
		module.ProductType:    1,
		module.Type:           1,
		module.Category:       2,
		module.Product:        1,
		module.InventoryEntry: 1,
	}, processed)

	page, err := target.Query(context.Background(), platform.Query{
		ResourceType: platform.Categories,
		Where:        platform.Predicate{Key: "shirts"},
		Expand:       true,
	})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.ElementsMatch(t, []string{"fields", "men"}, []string{
		page.Results[0].References[0].Key,
		page.Results[0].References[1].Key,
	})
	assert.NotEqual(t, men.ID, page.Results[0].References[1].ID)

	clock.Advance(10 * time.Minute)
	outcomes, err = o.Run(context.Background(), []string{"all"})
	require.NoError(t, err)
	for _, out := range outcomes {
		assert.Equal(t, orchestrator.StatusSucceeded, out.Status, out.Module.String())
		assert.Zero(t, out.Statistics.Processed, out.Module.String())
	}
}
