package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/catalogsync/internal/platform"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
	"github.com/livinlefevreloca/catalogsync/internal/testutil"
)

var platformNow = time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *testutil.FakePlatform, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(platformNow)
	target := testutil.NewFakePlatform("target", clock)
	return NewStore(target, "", testutil.NewTestLogger().Logger()), target, clock
}

func TestContainer(t *testing.T) {
	store, _, _ := newStore(t)

	tests := []struct {
		runner string
		want   string
	}{
		{"testRunnerName", "catalog-sync.testRunnerName.bar"},
		{"", "catalog-sync.runnerName.bar"},
		{" ", "catalog-sync. .bar"},
		{"   ", "catalog-sync.   .bar"},
		{DefaultRunnerName, "catalog-sync.runnerName.bar"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, store.Container(tt.runner, "bar"), "runner %q", tt.runner)
	}

	custom := NewStore(nil, "acme", nil)
	assert.Equal(t, "acme.X.productSync", custom.Container("X", "productSync"))
}

func TestCurrentAnchor(t *testing.T) {
	store, target, clock := newStore(t)
	ctx := context.Background()

	anchor, err := store.CurrentAnchor(ctx, "testRunnerName")
	require.NoError(t, err)
	assert.Equal(t, platformNow.Add(-2*time.Minute), anchor)

	doc := target.Get(platform.KeyValueDocuments, "catalog-sync.testRunnerName.timestampGenerator", AnchorKey)
	require.NotNil(t, doc)
	first := string(doc.Value)

	// every anchor write is a real modification so the platform restamps it
	clock.Advance(time.Hour)
	anchor, err = store.CurrentAnchor(ctx, "testRunnerName")
	require.NoError(t, err)
	assert.Equal(t, platformNow.Add(time.Hour-2*time.Minute), anchor)

	doc = target.Get(platform.KeyValueDocuments, "catalog-sync.testRunnerName.timestampGenerator", AnchorKey)
	assert.NotEqual(t, first, string(doc.Value))
	assert.EqualValues(t, 2, doc.Version)
}

func TestCurrentAnchor_DefaultRunner(t *testing.T) {
	store, target, _ := newStore(t)

	_, err := store.CurrentAnchor(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, target.Get(platform.KeyValueDocuments, "catalog-sync.runnerName.timestampGenerator", AnchorKey))
}

func TestCurrentAnchor_PlatformErrorUnchanged(t *testing.T) {
	store, target, _ := newStore(t)
	failure := platform.NewError("upsert", platform.CodeUnavailable, "bad gateway", nil)
	target.FailCommands(platform.KeyValueDocuments, failure)

	_, err := store.CurrentAnchor(context.Background(), "testRunnerName")
	require.Error(t, err)
	assert.Equal(t, error(failure), err)
	assert.Equal(t, failure.Error(), err.Error())
}

func TestLastRecord_Absent(t *testing.T) {
	store, _, _ := newStore(t)

	rec, err := store.LastRecord(context.Background(), "foo", "bar", "testRunnerName")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCreateRecord_RoundTrip(t *testing.T) {
	store, target, _ := newStore(t)
	ctx := context.Background()

	ts := platformNow.Add(-2 * time.Minute)
	in := Record{
		Timestamp:      ts,
		Statistics:     stats.Statistics{Processed: 1, Created: 1, ReportMessage: "done"},
		DurationMillis: 1234,
	}

	created, err := store.CreateRecord(ctx, "foo", "bar", "testRunnerName", in)
	require.NoError(t, err)
	assert.Equal(t, "foo", created.OwnerKey)
	assert.Equal(t, "bar", created.Module)
	assert.True(t, ts.Equal(created.Timestamp))

	doc := target.Get(platform.KeyValueDocuments, "catalog-sync.testRunnerName.bar", "foo")
	require.NotNil(t, doc)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(doc.Value, &wire))
	assert.Equal(t, ts.Format(time.RFC3339Nano), wire["lastSyncTimestamp"])
	assert.EqualValues(t, 1234, wire["lastSyncDurationInMillis"])
	assert.Contains(t, wire, "lastSyncStatistics")
	assert.NotContains(t, wire, "OwnerKey")

	got, err := store.LastRecord(ctx, "foo", "bar", "testRunnerName")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, 1, got.Statistics.Processed)
	assert.Equal(t, int64(1234), got.DurationMillis)
}

func TestCreateRecord_Overwrites(t *testing.T) {
	store, target, clock := newStore(t)
	ctx := context.Background()

	_, err := store.CreateRecord(ctx, "foo", "bar", "", Record{Timestamp: platformNow})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	later := platformNow.Add(time.Hour)
	_, err = store.CreateRecord(ctx, "foo", "bar", DefaultRunnerName, Record{Timestamp: later})
	require.NoError(t, err)

	docs := target.All(platform.KeyValueDocuments)
	require.Len(t, docs, 1)
	assert.Equal(t, "catalog-sync.runnerName.bar", docs[0].Container)

	got, err := store.LastRecord(ctx, "foo", "bar", "")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.Timestamp))
}

func TestCreateRecord_PlatformErrorUnchanged(t *testing.T) {
	store, target, _ := newStore(t)
	failure := errors.New("connection reset")
	target.FailCommands(platform.KeyValueDocuments, failure)

	_, err := store.CreateRecord(context.Background(), "foo", "bar", "", Record{})
	assert.Equal(t, failure, err)
}

func TestLastRecord_PlatformErrorUnchanged(t *testing.T) {
	store, target, _ := newStore(t)
	failure := platform.NewError("query", platform.CodeDatabase, "locked", nil)
	target.FailQueries(platform.KeyValueDocuments, failure)

	_, err := store.LastRecord(context.Background(), "foo", "bar", "")
	assert.Equal(t, error(failure), err)
}

func TestLastRecord_Malformed(t *testing.T) {
	store, target, _ := newStore(t)
	target.Seed(platform.Resource{
		Type:      platform.KeyValueDocuments,
		Container: "catalog-sync.runnerName.bar",
		Key:       "foo",
		Value:     json.RawMessage(`"not a record"`),
	})

	_, err := store.LastRecord(context.Background(), "foo", "bar", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed checkpoint")
}
