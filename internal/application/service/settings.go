package service

import (
	"context"
	"fmt"

	"mcp-bridge/internal/application/port/input"
	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

const SettingsKey = "mcp_settings"

var _ input.SettingsService = (*SettingsServiceImpl)(nil)

type SettingsServiceImpl struct {
	store  output.KeyValueStore
	bus    output.EventBus
	logger output.LoggerPort
}

func NewSettingsService(store output.KeyValueStore, bus output.EventBus, logger output.LoggerPort) *SettingsServiceImpl {
	return &SettingsServiceImpl{
		store:  store,
		bus:    bus,
		logger: logger.WithField("component", "settings"),
	}
}

// Get falls back to defaults when nothing is stored or the record is unreadable.
func (s *SettingsServiceImpl) Get(ctx context.Context) (entity.Settings, error) {
	settings := entity.DefaultSettings()
	found, err := s.store.Get(ctx, SettingsKey, &settings)
	if err != nil {
		s.logger.Warn("Stored settings unreadable, using defaults", "error", err)
		return entity.DefaultSettings(), nil
	}
	if !found {
		return entity.DefaultSettings(), nil
	}
	return settings, nil
}

func (s *SettingsServiceImpl) Update(ctx context.Context, settings entity.Settings) error {
	if err := s.store.Set(ctx, SettingsKey, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("Settings updated", "autoCallTools", settings.AutoCallTools)
	s.bus.Publish(entity.TopicSettingsUpdated)
	return nil
}
