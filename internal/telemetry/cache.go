package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

// LatestStore holds the most recent reading per device and kind. It is
// satisfied by *cache.Client. Lookups that fail for any reason fall back to
// the underlying store.
type LatestStore interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// CachingStore keeps a LatestStore current on every sensor write and serves
// device-scoped latest-reading lookups from it.
type CachingStore struct {
	Store
	latest LatestStore
	now    func() time.Time
}

// NewCachingStore wraps store. A nil latest returns store unchanged.
func NewCachingStore(store Store, latest LatestStore) Store {
	if latest == nil {
		return store
	}
	return &CachingStore{Store: store, latest: latest, now: time.Now}
}

func latestKey(deviceID string, kind SensorKind) string {
	return "farmbridge:sensor:last:" + deviceID + ":" + string(kind)
}

// InsertSensorReading writes through and refreshes the cached value.
func (s *CachingStore) InsertSensorReading(ctx context.Context, r SensorReading) error {
	if err := s.Store.InsertSensorReading(ctx, r); err != nil {
		return err
	}
	s.remember(ctx, r, s.now())
	return nil
}

// InsertSensorRound writes through and refreshes every cached kind.
func (s *CachingStore) InsertSensorRound(ctx context.Context, readings []SensorReading) error {
	if err := s.Store.InsertSensorRound(ctx, readings); err != nil {
		return err
	}
	at := s.now()
	for _, r := range readings {
		s.remember(ctx, r, at)
	}
	return nil
}

// LatestSensorReading answers from the cache when both kind and device are
// given, otherwise from the store.
func (s *CachingStore) LatestSensorReading(ctx context.Context, kind SensorKind, deviceID string) (SensorReading, error) {
	if kind != "" && deviceID != "" {
		if data, err := s.latest.Get(ctx, latestKey(deviceID, kind)); err == nil {
			var r SensorReading
			if json.Unmarshal(data, &r) == nil {
				return r, nil
			}
		}
	}
	return s.Store.LatestSensorReading(ctx, kind, deviceID)
}

// remember caches r. The store assigns the authoritative id and timestamp,
// so the cached copy carries the write time and no id.
func (s *CachingStore) remember(ctx context.Context, r SensorReading, at time.Time) {
	r.ID = 0
	r.CreatedAt = at.UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	_ = s.latest.Set(ctx, latestKey(r.DeviceID, r.Kind), data) //nolint:errcheck // Cache is advisory
}
