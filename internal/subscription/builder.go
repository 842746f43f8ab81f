package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rtls-stream/internal/config"
	"rtls-stream/internal/models"
)

// ZoneProvider fetches the zone hierarchy for a root zone. Backed by the
// registry database in production, faked in tests.
type ZoneProvider interface {
	GetZoneTree(ctx context.Context, rootZoneID int) (*models.ZoneNode, error)
}

// placeholderDeviceIDs keep the stream exercisable when the device
// registry is empty, e.g. on a fresh deployment.
var placeholderDeviceIDs = []string{"TAG-SIM-1", "TAG-SIM-2", "TAG-SIM-3"}

type cachedHierarchy struct {
	zoneIDs   []int
	fetchedAt time.Time
}

// Builder resolves zone hierarchies and turns device lists into chunked
// subscription requests that respect the per-request device cap and the
// total handshake ceiling.
type Builder struct {
	cfg      config.SubscriptionConfig
	provider ZoneProvider
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[int]cachedHierarchy

	now          func() time.Time
	newRequestID func() string
}

func NewBuilder(cfg config.SubscriptionConfig, provider ZoneProvider, logger zerolog.Logger) *Builder {
	return &Builder{
		cfg:          cfg,
		provider:     provider,
		logger:       logger,
		cache:        make(map[int]cachedHierarchy),
		now:          time.Now,
		newRequestID: func() string { return uuid.NewString() },
	}
}

// ResolveZoneHierarchy flattens the full descendant tree of rootZoneID,
// root first. Results are cached per root for the configured TTL. A
// provider failure degrades to just the root zone rather than failing
// subscription construction.
func (b *Builder) ResolveZoneHierarchy(ctx context.Context, rootZoneID int) []int {
	b.mu.Lock()
	cached, ok := b.cache[rootZoneID]
	b.mu.Unlock()

	if ok && b.now().Sub(cached.fetchedAt) < b.cfg.ZoneCacheTTL {
		out := make([]int, len(cached.zoneIDs))
		copy(out, cached.zoneIDs)
		return out
	}

	tree, err := b.provider.GetZoneTree(ctx, rootZoneID)
	if err != nil {
		b.logger.Warn().Err(err).
			Int("root_zone", rootZoneID).
			Msg("Zone hierarchy fetch failed, falling back to root zone only")
		return []int{rootZoneID}
	}

	zoneIDs := flattenZoneTree(tree)
	if len(zoneIDs) == 0 || zoneIDs[0] != rootZoneID {
		zoneIDs = append([]int{rootZoneID}, zoneIDs...)
	}

	b.mu.Lock()
	b.cache[rootZoneID] = cachedHierarchy{zoneIDs: zoneIDs, fetchedAt: b.now()}
	b.mu.Unlock()

	b.logger.Debug().
		Int("root_zone", rootZoneID).
		Int("zones", len(zoneIDs)).
		Msg("Resolved zone hierarchy")

	out := make([]int, len(zoneIDs))
	copy(out, zoneIDs)
	return out
}

func flattenZoneTree(node *models.ZoneNode) []int {
	if node == nil {
		return nil
	}
	zoneIDs := []int{node.ZoneID}
	for _, child := range node.Children {
		zoneIDs = append(zoneIDs, flattenZoneTree(child)...)
	}
	return zoneIDs
}

// BuildSubscriptions emits one Subscription per (zone, device chunk) pair.
// Devices are priority-sorted first so that when the subscription ceiling
// truncates output, the highest-priority devices are still covered.
func (b *Builder) BuildSubscriptions(devices []*models.TrackedDevice, zoneIDs []int) []models.Subscription {
	deviceIDs := b.orderedDeviceIDs(devices)

	var subscriptions []models.Subscription
	for _, zoneID := range zoneIDs {
		for start := 0; start < len(deviceIDs); start += b.cfg.MaxDevices {
			if len(subscriptions) >= b.cfg.MaxSubscriptions {
				b.logger.Warn().
					Int("limit", b.cfg.MaxSubscriptions).
					Int("zones", len(zoneIDs)).
					Int("devices", len(deviceIDs)).
					Msg("Subscription ceiling reached, truncating handshake")
				return subscriptions
			}

			end := start + b.cfg.MaxDevices
			if end > len(deviceIDs) {
				end = len(deviceIDs)
			}

			chunk := make([]string, end-start)
			copy(chunk, deviceIDs[start:end])

			subscription := models.Subscription{
				ZoneID:    zoneID,
				DeviceIDs: chunk,
				RequestID: b.newRequestID(),
			}
			if err := subscription.Validate(b.cfg.MaxDevices); err != nil {
				b.logger.Error().Err(err).Msg("Dropping invalid subscription")
				continue
			}
			subscriptions = append(subscriptions, subscription)
		}
	}

	return subscriptions
}

// orderedDeviceIDs sorts by classification priority, then id for a stable
// handshake, and strips wildcard sentinels. Falls back to the placeholder
// list when the registry yields nothing.
func (b *Builder) orderedDeviceIDs(devices []*models.TrackedDevice) []string {
	sorted := make([]*models.TrackedDevice, 0, len(devices))
	for _, device := range devices {
		if device.DeviceID == models.WildcardDeviceID {
			b.logger.Warn().Msg("Ignoring wildcard device id from registry")
			continue
		}
		if device.DeviceID == "" {
			continue
		}
		sorted = append(sorted, device)
	}

	if len(sorted) == 0 {
		ids := make([]string, len(placeholderDeviceIDs))
		copy(ids, placeholderDeviceIDs)
		return ids
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() < sorted[j].Priority()
		}
		return sorted[i].DeviceID < sorted[j].DeviceID
	})

	ids := make([]string, len(sorted))
	for i, device := range sorted {
		ids[i] = device.DeviceID
	}
	return ids
}
