package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/logger"
	"mcp-bridge/internal/infrastructure/storage"
)

const calcURL = "http://localhost:3000/mcp"

func calcTools() []entity.ToolDescriptor {
	return []entity.ToolDescriptor{
		{Name: "add", Description: "Add two numbers"},
		{Name: "subtract", Description: "Subtract two numbers"},
	}
}

type registryFixture struct {
	registry *ServerRegistryImpl
	store    *storage.MemoryStore
	client   *fakeToolClient
	bus      *recordingBus
}

func newRegistryFixture() *registryFixture {
	f := &registryFixture{
		store:  storage.NewMemoryStore(),
		client: newFakeToolClient(),
		bus:    &recordingBus{},
	}
	f.client.tools[calcURL] = calcTools()
	f.registry = NewServerRegistry(f.store, f.client, f.bus, logger.NewNop())

	ids := 0
	f.registry.newID = func() string {
		ids++
		return fmt.Sprintf("srv-%d", ids)
	}
	f.registry.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	return f
}

func TestRegistry_AddProbesAndPersists(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	rec, err := f.registry.Add(ctx, "My Server", calcURL)
	require.NoError(t, err)

	assert.Equal(t, "srv-1", rec.ID)
	assert.Equal(t, "my-server", rec.Name)
	assert.Len(t, rec.Tools, 2)
	assert.True(t, rec.IsEnabled)
	assert.True(t, rec.IsConnected)
	require.NotNil(t, rec.LastConnected)

	servers, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, *rec, servers[0])
	assert.Equal(t, 1, f.bus.count(entity.TopicServersUpdated))
}

func TestRegistry_AddFailedProbePersistsNothing(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	bad := "http://localhost:9/mcp"
	f.client.errs[bad] = &entity.ConnectionError{URL: bad, Err: entity.ErrConnectionTimeout}

	_, err := f.registry.Add(ctx, "Broken", bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrConnectionTimeout)

	servers, err := f.registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, servers)
	assert.Zero(t, f.bus.count(entity.TopicServersUpdated))
}

func TestRegistry_AddRejectsEmptyInput(t *testing.T) {
	f := newRegistryFixture()
	_, err := f.registry.Add(context.Background(), "  ", calcURL)

	var vErr *entity.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Empty(t, f.client.probes)
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	f := newRegistryFixture()
	f.registry.newID = NewServerRegistry(nil, nil, nil, logger.NewNop()).newID
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		rec, err := f.registry.Add(ctx, fmt.Sprintf("server %d", i), calcURL)
		require.NoError(t, err)
		assert.False(t, seen[rec.ID])
		seen[rec.ID] = true
	}
}

func TestRegistry_RemoveAndClear(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	a, err := f.registry.Add(ctx, "a", calcURL)
	require.NoError(t, err)
	_, err = f.registry.Add(ctx, "b", calcURL)
	require.NoError(t, err)

	require.NoError(t, f.registry.Remove(ctx, a.ID))
	assert.ErrorIs(t, f.registry.Remove(ctx, a.ID), entity.ErrServerNotFound)

	servers, _ := f.registry.List(ctx)
	require.Len(t, servers, 1)
	assert.Equal(t, "b", servers[0].Name)

	require.NoError(t, f.registry.Clear(ctx))
	servers, _ = f.registry.List(ctx)
	assert.Empty(t, servers)
	assert.Equal(t, 4, f.bus.count(entity.TopicServersUpdated))
}

func TestRegistry_Update(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	rec, err := f.registry.Add(ctx, "calc", calcURL)
	require.NoError(t, err)

	t.Run("merges fields", func(t *testing.T) {
		require.NoError(t, f.registry.Update(ctx, rec.ID, map[string]any{
			"name":                "renamed",
			"tools.0.description": "Sum",
		}))
		servers, _ := f.registry.List(ctx)
		assert.Equal(t, "renamed", servers[0].Name)
		assert.Equal(t, "Sum", servers[0].Tools[0].Description)
		assert.Equal(t, rec.ID, servers[0].ID)
	})

	t.Run("id is immutable", func(t *testing.T) {
		err := f.registry.Update(ctx, rec.ID, map[string]any{"id": "other"})
		var vErr *entity.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("invalid result is rejected", func(t *testing.T) {
		err := f.registry.Update(ctx, rec.ID, map[string]any{"url": "not a url"})
		assert.Error(t, err)
		servers, _ := f.registry.List(ctx)
		assert.Equal(t, calcURL, servers[0].URL)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := f.registry.Update(ctx, "missing", map[string]any{"name": "x"})
		assert.ErrorIs(t, err, entity.ErrServerNotFound)
	})
}

func TestRegistry_DisabledServersAreNotCandidates(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	rec, err := f.registry.Add(ctx, "calc", calcURL)
	require.NoError(t, err)

	require.NoError(t, f.registry.SetEnabled(ctx, rec.ID, false))
	servers, _ := f.registry.List(ctx)
	require.Len(t, servers, 1)
	assert.True(t, servers[0].HasTool("add"))
	assert.Empty(t, entity.CandidateServers(servers, "add"))
	assert.Empty(t, entity.CollectEnabledTools(servers))
}

func TestRegistry_Refresh(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	rec, err := f.registry.Add(ctx, "calc", calcURL)
	require.NoError(t, err)

	f.client.errs[calcURL] = errors.New("connection refused")
	got, err := f.registry.Refresh(ctx, rec.ID)
	require.Error(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsConnected)
	assert.Equal(t, "connection refused", got.ConnectionError)
	assert.Len(t, got.Tools, 2, "cached tools survive a failed refresh")

	delete(f.client.errs, calcURL)
	f.client.tools[calcURL] = calcTools()[:1]
	got, err = f.registry.Refresh(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.IsConnected)
	assert.Empty(t, got.ConnectionError)
	assert.Len(t, got.Tools, 1)

	_, err = f.registry.Refresh(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrServerNotFound)
}

func TestRegistry_RefreshAllSkipsDisabled(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	other := "http://localhost:4000/mcp"
	f.client.tools[other] = calcTools()

	a, err := f.registry.Add(ctx, "a", calcURL)
	require.NoError(t, err)
	b, err := f.registry.Add(ctx, "b", other)
	require.NoError(t, err)
	require.NoError(t, f.registry.SetEnabled(ctx, b.ID, false))

	f.client.probes = nil
	f.client.errs[calcURL] = errors.New("down")

	err = f.registry.RefreshAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, []string{calcURL}, f.client.probes)

	servers, _ := f.registry.List(ctx)
	for _, s := range servers {
		if s.ID == a.ID {
			assert.False(t, s.IsConnected)
		}
	}
}

func TestRegistry_LoadDropsInvalidRecords(t *testing.T) {
	f := newRegistryFixture()
	f.store.SetRaw(ServersKey, []byte(`[
		{"id":"ok","name":"ok","url":"http://localhost:1/mcp","createdAt":"2024-05-01T12:00:00Z","tools":[],"isConnected":true,"isEnabled":true},
		{"id":"","name":"no-id","url":"http://localhost:2/mcp"},
		{"id":"bad-url","name":"bad","url":"nope"},
		{"id":"wrong-type","name":42}
	]`))

	servers, err := f.registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "ok", servers[0].ID)
}

func TestRegistry_UnreadableStoreIsNeverOverwritten(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	readErr := errors.New("permission denied")
	store := &flakyStore{KeyValueStore: f.store, err: readErr}
	f.registry.store = store

	_, err := f.registry.Add(ctx, "One", calcURL)
	require.NoError(t, err)
	_, err = f.registry.Add(ctx, "Two", calcURL)
	require.NoError(t, err)

	store.failNext(1)
	_, err = f.registry.Add(ctx, "Three", calcURL)
	assert.ErrorIs(t, err, readErr)

	store.failNext(1)
	assert.ErrorIs(t, f.registry.Remove(ctx, "srv-1"), readErr)

	store.failNext(1)
	assert.ErrorIs(t, f.registry.SetEnabled(ctx, "srv-1", false), readErr)

	store.failNext(1)
	_, err = f.registry.Refresh(ctx, "srv-1")
	assert.ErrorIs(t, err, readErr)

	store.failNext(1)
	_, err = f.registry.List(ctx)
	assert.ErrorIs(t, err, readErr)

	servers, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "one", servers[0].Name)
	assert.Equal(t, "two", servers[1].Name)
	assert.True(t, servers[0].IsEnabled)
}
