package stream

import (
	"encoding/json"
	"testing"

	"rtls-stream/internal/models"
)

func TestBeginStreamEnvelope(t *testing.T) {
	subscription := models.Subscription{
		ZoneID:    449,
		DeviceIDs: []string{"T1", "T2"},
		RequestID: "req-1",
	}

	payload, err := json.Marshal(newBeginStream(subscription))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["type"] != "request" || decoded["request"] != "BeginStream" {
		t.Errorf("envelope discriminators = %v/%v", decoded["type"], decoded["request"])
	}
	if decoded["reqid"] != "req-1" {
		t.Errorf("reqid = %v, want req-1", decoded["reqid"])
	}
	if decoded["zone_id"] != float64(449) {
		t.Errorf("zone_id = %v, want 449", decoded["zone_id"])
	}

	params, ok := decoded["params"].([]interface{})
	if !ok || len(params) != 2 {
		t.Fatalf("params = %v, want 2 entries", decoded["params"])
	}
	first := params[0].(map[string]interface{})
	if first["id"] != "T1" || first["data"] != "true" {
		t.Errorf("first param = %v", first)
	}
}

func TestHeartbeatIDExtraction(t *testing.T) {
	cases := []struct {
		name string
		msg  map[string]interface{}
		want interface{}
	}{
		{
			"nested",
			map[string]interface{}{"data": map[string]interface{}{"heartbeat_id": "hb-7"}},
			"hb-7",
		},
		{
			"top level",
			map[string]interface{}{"heartbeat_id": float64(12)},
			float64(12),
		},
		{
			"absent",
			map[string]interface{}{},
			nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := heartbeatID(tc.msg); got != tc.want {
				t.Errorf("heartbeatID = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRedirectPortExtraction(t *testing.T) {
	cases := []struct {
		name   string
		msg    map[string]interface{}
		want   int
		wantOK bool
	}{
		{"nested", map[string]interface{}{"data": map[string]interface{}{"port": float64(8101)}}, 8101, true},
		{"top level", map[string]interface{}{"port": float64(8102)}, 8102, true},
		{"missing", map[string]interface{}{}, 0, false},
		{"zero port", map[string]interface{}{"port": float64(0)}, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := redirectPort(tc.msg)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("redirectPort = (%d, %v), want (%d, %v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
