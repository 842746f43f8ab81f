package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rtls-stream/internal/config"
	"rtls-stream/internal/models"
)

type fakeZoneProvider struct {
	tree  *models.ZoneNode
	err   error
	calls int
}

func (f *fakeZoneProvider) GetZoneTree(ctx context.Context, rootZoneID int) (*models.ZoneNode, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tree, nil
}

func testBuilderConfig() config.SubscriptionConfig {
	return config.SubscriptionConfig{
		RootZoneID:       449,
		MaxDevices:       50,
		MaxSubscriptions: 15,
		ZoneCacheTTL:     5 * time.Minute,
	}
}

func newTestBuilder(provider ZoneProvider) *Builder {
	return NewBuilder(testBuilderConfig(), provider, zerolog.New(io.Discard))
}

func makeDevices(n int) []*models.TrackedDevice {
	devices := make([]*models.TrackedDevice, n)
	for i := range devices {
		devices[i] = &models.TrackedDevice{DeviceID: fmt.Sprintf("TAG-%03d", i)}
	}
	return devices
}

func TestResolveZoneHierarchyFlattensTree(t *testing.T) {
	provider := &fakeZoneProvider{
		tree: &models.ZoneNode{
			ZoneID: 449,
			Children: []*models.ZoneNode{
				{ZoneID: 450, Children: []*models.ZoneNode{{ZoneID: 452}}},
				{ZoneID: 451},
			},
		},
	}
	b := newTestBuilder(provider)

	zoneIDs := b.ResolveZoneHierarchy(context.Background(), 449)

	want := []int{449, 450, 452, 451}
	if len(zoneIDs) != len(want) {
		t.Fatalf("zone ids = %v, want %v", zoneIDs, want)
	}
	for i := range want {
		if zoneIDs[i] != want[i] {
			t.Fatalf("zone ids = %v, want %v", zoneIDs, want)
		}
	}
}

func TestResolveZoneHierarchyFallsBackOnError(t *testing.T) {
	provider := &fakeZoneProvider{err: errors.New("registry unreachable")}
	b := newTestBuilder(provider)

	zoneIDs := b.ResolveZoneHierarchy(context.Background(), 449)

	if len(zoneIDs) != 1 || zoneIDs[0] != 449 {
		t.Errorf("zone ids = %v, want fallback [449]", zoneIDs)
	}
}

func TestResolveZoneHierarchyCaching(t *testing.T) {
	provider := &fakeZoneProvider{tree: &models.ZoneNode{ZoneID: 449}}
	b := newTestBuilder(provider)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	current := base
	b.now = func() time.Time { return current }

	b.ResolveZoneHierarchy(context.Background(), 449)
	b.ResolveZoneHierarchy(context.Background(), 449)
	if provider.calls != 1 {
		t.Errorf("provider called %d times within TTL, want 1", provider.calls)
	}

	current = base.Add(6 * time.Minute)
	b.ResolveZoneHierarchy(context.Background(), 449)
	if provider.calls != 2 {
		t.Errorf("provider called %d times after TTL expiry, want 2", provider.calls)
	}
}

func TestResolveZoneHierarchyErrorsAreNotCached(t *testing.T) {
	provider := &fakeZoneProvider{err: errors.New("down")}
	b := newTestBuilder(provider)

	b.ResolveZoneHierarchy(context.Background(), 449)
	provider.err = nil
	provider.tree = &models.ZoneNode{ZoneID: 449}

	b.ResolveZoneHierarchy(context.Background(), 449)
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want retry after failure", provider.calls)
	}
}

func TestBuildSubscriptionsChunking(t *testing.T) {
	b := newTestBuilder(&fakeZoneProvider{})

	subscriptions := b.BuildSubscriptions(makeDevices(120), []int{449})

	if len(subscriptions) != 3 {
		t.Fatalf("got %d subscriptions, want 3", len(subscriptions))
	}
	for i, want := range []int{50, 50, 20} {
		if len(subscriptions[i].DeviceIDs) != want {
			t.Errorf("subscription %d has %d devices, want %d", i, len(subscriptions[i].DeviceIDs), want)
		}
		if subscriptions[i].ZoneID != 449 {
			t.Errorf("subscription %d zone = %d, want 449", i, subscriptions[i].ZoneID)
		}
		if subscriptions[i].RequestID == "" {
			t.Errorf("subscription %d has empty request id", i)
		}
	}
}

func TestBuildSubscriptionsCoversEveryDevicePerZone(t *testing.T) {
	b := newTestBuilder(&fakeZoneProvider{})
	devices := makeDevices(73)
	zoneIDs := []int{449, 450}

	subscriptions := b.BuildSubscriptions(devices, zoneIDs)

	for _, zoneID := range zoneIDs {
		covered := make(map[string]bool)
		for _, subscription := range subscriptions {
			if subscription.ZoneID != zoneID {
				continue
			}
			if len(subscription.DeviceIDs) > 50 {
				t.Errorf("subscription exceeds device cap: %d", len(subscription.DeviceIDs))
			}
			for _, id := range subscription.DeviceIDs {
				covered[id] = true
			}
		}
		if len(covered) != len(devices) {
			t.Errorf("zone %d covers %d devices, want %d", zoneID, len(covered), len(devices))
		}
	}
}

func TestBuildSubscriptionsCeiling(t *testing.T) {
	b := newTestBuilder(&fakeZoneProvider{})
	// 20 zones x 3 chunks apiece would be 60 requests without the ceiling.
	zoneIDs := make([]int, 20)
	for i := range zoneIDs {
		zoneIDs[i] = 400 + i
	}

	subscriptions := b.BuildSubscriptions(makeDevices(120), zoneIDs)

	if len(subscriptions) != 15 {
		t.Fatalf("got %d subscriptions, want ceiling of 15", len(subscriptions))
	}
}

func TestBuildSubscriptionsPriorityOrdering(t *testing.T) {
	b := newTestBuilder(&fakeZoneProvider{})
	devices := []*models.TrackedDevice{
		{DeviceID: "UNKNOWN-1"},
		{DeviceID: "EXT-1", CategoryHint: models.CategoryExternal},
		{DeviceID: "CAMPUS-1", CategoryHint: models.CategoryCampus},
		{DeviceID: "EXT-0", CategoryHint: models.CategoryExternal},
	}

	subscriptions := b.BuildSubscriptions(devices, []int{449})

	if len(subscriptions) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subscriptions))
	}
	got := subscriptions[0].DeviceIDs
	want := []string{"EXT-0", "EXT-1", "CAMPUS-1", "UNKNOWN-1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("device order = %v, want %v", got, want)
		}
	}
}

func TestBuildSubscriptionsPlaceholderFallback(t *testing.T) {
	b := newTestBuilder(&fakeZoneProvider{})

	subscriptions := b.BuildSubscriptions(nil, []int{449})

	if len(subscriptions) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subscriptions))
	}
	if len(subscriptions[0].DeviceIDs) == 0 {
		t.Error("placeholder subscription has no device ids")
	}
}

func TestBuildSubscriptionsStripsWildcard(t *testing.T) {
	b := newTestBuilder(&fakeZoneProvider{})
	devices := []*models.TrackedDevice{
		{DeviceID: models.WildcardDeviceID},
		{DeviceID: "TAG-1"},
	}

	subscriptions := b.BuildSubscriptions(devices, []int{449})

	for _, subscription := range subscriptions {
		if err := subscription.Validate(50); err != nil {
			t.Errorf("built subscription failed validation: %v", err)
		}
		for _, id := range subscription.DeviceIDs {
			if id == models.WildcardDeviceID {
				t.Error("wildcard device id survived into a subscription")
			}
		}
	}
}

func TestSubscriptionValidate(t *testing.T) {
	cases := []struct {
		name         string
		subscription models.Subscription
		wantErr      bool
	}{
		{"valid", models.Subscription{ZoneID: 449, DeviceIDs: []string{"T1"}, RequestID: "r1"}, false},
		{"empty devices", models.Subscription{ZoneID: 449, RequestID: "r1"}, true},
		{"wildcard", models.Subscription{ZoneID: 449, DeviceIDs: []string{"*"}, RequestID: "r1"}, true},
		{"over cap", models.Subscription{ZoneID: 449, DeviceIDs: make([]string, 51), RequestID: "r1"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.name == "over cap" {
				for i := range tc.subscription.DeviceIDs {
					tc.subscription.DeviceIDs[i] = fmt.Sprintf("T%d", i)
				}
			}
			err := tc.subscription.Validate(50)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
