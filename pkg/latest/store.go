// Package latest keeps the most recent reading per sensor class for
// display consumers.
package latest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/sensorutils"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
)

// Store is written by the transport reader only and read by any number of
// consumers through Snapshot.
type Store struct {
	mu      sync.RWMutex
	hygro   slot[types.Hygro]
	light   slot[types.Light]
	thermal slot[types.Thermal]
	updates uint64
	started time.Time
	now     func() time.Time
}

type slot[T any] struct {
	value     T
	set       bool
	updatedAt time.Time
}

func (s slot[T]) copyOut() (*T, time.Time) {
	if !s.set {
		return nil, time.Time{}
	}
	v := s.value
	return &v, s.updatedAt
}

// Snapshot is a consistent copy of the store. A nil field means no reading
// of that class has arrived yet.
type Snapshot struct {
	Hygro   *HygroView     `json:"hygro"`
	Light   *LightView     `json:"light"`
	Thermal *types.Thermal `json:"thermal"`

	HygroUpdatedAt   time.Time `json:"hygro_updated_at,omitempty"`
	LightUpdatedAt   time.Time `json:"light_updated_at,omitempty"`
	ThermalUpdatedAt time.Time `json:"thermal_updated_at,omitempty"`

	Updates   uint64    `json:"updates"`
	StartedAt time.Time `json:"started_at"`
}

// HygroView adds the derived dew point to a hygro reading.
type HygroView struct {
	types.Hygro
	DewPointC *float64 `json:"dew_point_c"`
}

// LightView adds display-only lux renderings to a light reading.
type LightView struct {
	types.Light
	LuxDisplay string  `json:"lux_display"`
	LegacyLux  float64 `json:"legacy_lux"`
}

// NewStore creates an empty store.
func NewStore() *Store {
	return newStoreWithClock(time.Now)
}

func newStoreWithClock(now func() time.Time) *Store {
	return &Store{now: now, started: now()}
}

// Update overwrites the slot for the reading's class.
func (s *Store) Update(r types.Reading) {
	at := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := r.(type) {
	case types.Hygro:
		s.hygro = slot[types.Hygro]{value: v, set: true, updatedAt: at}
	case types.Light:
		s.light = slot[types.Light]{value: v, set: true, updatedAt: at}
	case types.Thermal:
		s.thermal = slot[types.Thermal]{value: v, set: true, updatedAt: at}
	default:
		return
	}
	s.updates++
}

// Snapshot returns a copy of all slots taken under one read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	hygro, hygroAt := s.hygro.copyOut()
	light, lightAt := s.light.copyOut()
	thermal, thermalAt := s.thermal.copyOut()
	snap := Snapshot{
		Thermal:          thermal,
		HygroUpdatedAt:   hygroAt,
		LightUpdatedAt:   lightAt,
		ThermalUpdatedAt: thermalAt,
		Updates:          s.updates,
		StartedAt:        s.started,
	}
	s.mu.RUnlock()

	// Derived values are computed outside the lock.
	if hygro != nil {
		view := &HygroView{Hygro: *hygro}
		if dp, ok := sensorutils.DewPoint(hygro.TemperatureC, hygro.RelativeHumidityPct); ok {
			view.DewPointC = &dp
		}
		snap.Hygro = view
	}
	if light != nil {
		snap.Light = &LightView{
			Light:      *light,
			LuxDisplay: sensorutils.FormatLux(light.Lux),
			LegacyLux:  sensorutils.LegacyLux(light.RawFull, light.Gain, light.Integration),
		}
	}
	return snap
}

// Empty reports whether no reading of any class has arrived.
func (s Snapshot) Empty() bool {
	return s.Hygro == nil && s.Light == nil && s.Thermal == nil
}

// ToJsonBytes encodes the snapshot for the live API.
func (s Snapshot) ToJsonBytes() []byte {
	data, err := json.Marshal(s)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// SnapshotFromJsonBytes decodes a snapshot received from the live API.
// Returns nil when the payload is not a snapshot.
func SnapshotFromJsonBytes(data []byte) *Snapshot {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	return &snap
}
