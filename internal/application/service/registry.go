package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"github.com/tidwall/sjson"

	"mcp-bridge/internal/application/port/input"
	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

const ServersKey = "mcp_servers"

var _ input.ServerRegistry = (*ServerRegistryImpl)(nil)

// ServerRegistryImpl owns the persisted server list. Writes are serialised inside
// the process; across processes the last writer wins.
type ServerRegistryImpl struct {
	store  output.KeyValueStore
	client output.ToolClientPort
	bus    output.EventBus
	logger output.LoggerPort

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

func NewServerRegistry(store output.KeyValueStore, client output.ToolClientPort, bus output.EventBus, logger output.LoggerPort) *ServerRegistryImpl {
	return &ServerRegistryImpl{
		store:  store,
		client: client,
		bus:    bus,
		logger: logger.WithField("component", "registry"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (r *ServerRegistryImpl) List(ctx context.Context) ([]entity.ServerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Add probes url before anything is persisted. A failed probe leaves the
// registry untouched.
func (r *ServerRegistryImpl) Add(ctx context.Context, name, url string) (*entity.ServerRecord, error) {
	url = strings.TrimSpace(url)
	label := strings.TrimSpace(name)
	if label == "" || url == "" {
		return nil, &entity.ValidationError{Item: name, Err: errors.New("name and url are required")}
	}

	tools, err := r.client.ListTools(ctx, url)
	if err != nil {
		return nil, err
	}

	now := r.now()
	rec := entity.ServerRecord{
		ID:            r.newID(),
		Name:          strcase.ToKebab(label),
		URL:           url,
		CreatedAt:     now,
		Tools:         tools,
		IsConnected:   true,
		IsEnabled:     true,
		LastConnected: &now,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	servers, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	servers = append(servers, rec)
	if err := r.save(ctx, servers); err != nil {
		return nil, err
	}

	r.logger.Info("Server added", "id", rec.ID, "name", rec.Name, "tools", len(rec.Tools))
	return &rec, nil
}

func (r *ServerRegistryImpl) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers, err := r.load(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(servers, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", entity.ErrServerNotFound, id)
	}
	servers = append(servers[:idx], servers[idx+1:]...)
	if err := r.save(ctx, servers); err != nil {
		return err
	}

	r.logger.Info("Server removed", "id", id)
	return nil
}

// Update merges fields into the stored record by JSON field name. Paths use
// sjson syntax, so "tools.0.description" is accepted as well.
func (r *ServerRegistryImpl) Update(ctx context.Context, id string, fields map[string]any) error {
	if _, ok := fields["id"]; ok {
		return &entity.ValidationError{Item: id, Err: errors.New("id is immutable")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	servers, err := r.load(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(servers, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", entity.ErrServerNotFound, id)
	}

	updated, err := mergeFields(servers[idx], fields)
	if err != nil {
		return err
	}
	if updated.ID != id {
		return &entity.ValidationError{Item: id, Err: errors.New("id is immutable")}
	}
	servers[idx] = updated
	return r.save(ctx, servers)
}

func (r *ServerRegistryImpl) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return r.Update(ctx, id, map[string]any{"isEnabled": enabled})
}

// Refresh re-probes one server and records the outcome on it. The probe error,
// if any, is returned alongside the updated record.
func (r *ServerRegistryImpl) Refresh(ctx context.Context, id string) (*entity.ServerRecord, error) {
	servers, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOf(servers, id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", entity.ErrServerNotFound, id)
	}

	tools, probeErr := r.client.ListTools(ctx, servers[idx].URL)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reload: the list may have changed while the probe was in flight.
	servers, err = r.load(ctx)
	if err != nil {
		return nil, err
	}
	idx = indexOf(servers, id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", entity.ErrServerNotFound, id)
	}

	rec := &servers[idx]
	if probeErr != nil {
		rec.IsConnected = false
		rec.ConnectionError = probeErr.Error()
		r.logger.Warn("Server refresh failed", "id", id, "error", probeErr)
	} else {
		now := r.now()
		rec.Tools = tools
		rec.IsConnected = true
		rec.ConnectionError = ""
		rec.LastConnected = &now
		r.logger.Info("Server refreshed", "id", id, "tools", len(tools))
	}

	if err := r.save(ctx, servers); err != nil {
		return nil, err
	}
	out := *rec
	return &out, probeErr
}

// RefreshAll refreshes every enabled server. A failing server does not stop
// the others.
func (r *ServerRegistryImpl) RefreshAll(ctx context.Context) error {
	servers, err := r.List(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, s := range servers {
		if !s.IsEnabled {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.Refresh(ctx, s.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *ServerRegistryImpl) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Remove(ctx, ServersKey); err != nil {
		return fmt.Errorf("clear servers: %w", err)
	}
	r.logger.Info("Servers cleared")
	r.bus.Publish(entity.TopicServersUpdated)
	return nil
}

// load drops records that fail validation instead of failing the whole list.
// A list that cannot be read at all is an error, so that no write replaces it.
func (r *ServerRegistryImpl) load(ctx context.Context) ([]entity.ServerRecord, error) {
	var raw []json.RawMessage
	found, err := r.store.Get(ctx, ServersKey, &raw)
	if err != nil {
		r.logger.Error("Stored server list unreadable", "error", err)
		return nil, fmt.Errorf("load servers: %w", err)
	}
	if !found {
		return nil, nil
	}

	servers := make([]entity.ServerRecord, 0, len(raw))
	for i, item := range raw {
		var rec entity.ServerRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			r.logger.Warn("Dropping unreadable server record", "index", i, "error", err)
			continue
		}
		if err := rec.Validate(); err != nil {
			r.logger.Warn("Dropping invalid server record", "index", i, "error", err)
			continue
		}
		servers = append(servers, rec)
	}
	return servers, nil
}

func (r *ServerRegistryImpl) save(ctx context.Context, servers []entity.ServerRecord) error {
	if servers == nil {
		servers = []entity.ServerRecord{}
	}
	if err := r.store.Set(ctx, ServersKey, servers); err != nil {
		return fmt.Errorf("save servers: %w", err)
	}
	r.bus.Publish(entity.TopicServersUpdated)
	return nil
}

func mergeFields(rec entity.ServerRecord, fields map[string]any) (entity.ServerRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return rec, err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		data, err = sjson.SetBytes(data, k, fields[k])
		if err != nil {
			return rec, &entity.ValidationError{Item: k, Err: err}
		}
	}

	var out entity.ServerRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return rec, &entity.ValidationError{Item: rec.ID, Err: err}
	}
	if err := out.Validate(); err != nil {
		return rec, err
	}
	return out, nil
}

func indexOf(servers []entity.ServerRecord, id string) int {
	for i, s := range servers {
		if s.ID == id {
			return i
		}
	}
	return -1
}
