package room

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"talkroom/internal/models"
	"talkroom/internal/provider"

	"go.uber.org/zap"
)

var channelPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Registry maps channel names to rooms. Configured rooms are built when the
// registry is created; other channels get the default mode on first use, or
// do not exist when there is no default mode.
type Registry struct {
	mutex       sync.RWMutex
	rooms       map[string]*Room
	defaultMode string
	provider    *provider.Provider
	kv          KeyValue
	sugar       *zap.SugaredLogger
}

func NewRegistry(configs map[string]json.RawMessage, defaultMode string, p *provider.Provider, kv KeyValue, sugar *zap.SugaredLogger) (*Registry, error) {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	if defaultMode != "" {
		if _, err := Preset(defaultMode); err != nil {
			return nil, err
		}
	}

	r := &Registry{
		rooms:       make(map[string]*Room, len(configs)),
		defaultMode: defaultMode,
		provider:    p,
		kv:          kv,
		sugar:       sugar,
	}

	for channel, raw := range configs {
		if !channelPattern.MatchString(channel) {
			return nil, fmt.Errorf("room %q: invalid channel name", channel)
		}
		cfg, err := BuildConfig(raw, defaultMode)
		if err != nil {
			return nil, fmt.Errorf("room %q: %w", channel, err)
		}
		r.rooms[channel] = NewRoom(channel, cfg, p, kv, sugar)
		sugar.Infof("Configured room [%s] in mode [%s]", channel, cfg.Mode)
	}

	return r, nil
}

func (r *Registry) Room(channel string) (*Room, error) {
	if !channelPattern.MatchString(channel) {
		return nil, newError(KindInvalidRequest, fmt.Sprintf("invalid channel name %q", channel), nil)
	}

	r.mutex.RLock()
	room, ok := r.rooms[channel]
	r.mutex.RUnlock()
	if ok {
		return room, nil
	}

	if r.defaultMode == "" {
		return nil, newError(KindNotFound, fmt.Sprintf("room %s does not exist", channel), nil)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another request may have created it between the two locks
	if room, ok := r.rooms[channel]; ok {
		return room, nil
	}

	cfg, err := Preset(r.defaultMode)
	if err != nil {
		return nil, newError(KindStorageFailure, "could not build default room", err)
	}
	room = NewRoom(channel, cfg, r.provider, r.kv, r.sugar)
	r.rooms[channel] = room
	r.sugar.Debugf("Opened room [%s] with default mode [%s]", channel, cfg.Mode)
	return room, nil
}

// Configs returns a snapshot of every room config currently known.
func (r *Registry) Configs() map[string]models.RoomConfig {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	configs := make(map[string]models.RoomConfig, len(r.rooms))
	for channel, room := range r.rooms {
		configs[channel] = room.cfg
	}
	return configs
}
