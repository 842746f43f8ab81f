package stream

import (
	"rtls-stream/internal/models"
)

// Inbound message type discriminators. Heartbeats, acks, and redirects are
// handled internally; GISData is the one application type forwarded to the
// registered handler; everything else is dropped.
const (
	msgTypeHeartbeat = "HeartBeat"
	msgTypeReport    = "GISData"
	msgTypeResponse  = "response"
	msgTypeRedirect  = "PortRedirect"
)

const (
	requestBeginStream = "BeginStream"
	requestEndStream   = "EndStream"
)

type streamParam struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type beginStreamRequest struct {
	Type    string        `json:"type"`
	Request string        `json:"request"`
	ReqID   string        `json:"reqid"`
	Params  []streamParam `json:"params"`
	ZoneID  int           `json:"zone_id"`
}

func newBeginStream(subscription models.Subscription) beginStreamRequest {
	params := make([]streamParam, len(subscription.DeviceIDs))
	for i, deviceID := range subscription.DeviceIDs {
		params[i] = streamParam{ID: deviceID, Data: "true"}
	}
	return beginStreamRequest{
		Type:    "request",
		Request: requestBeginStream,
		ReqID:   subscription.RequestID,
		Params:  params,
		ZoneID:  subscription.ZoneID,
	}
}

type endStreamRequest struct {
	Type    string `json:"type"`
	Request string `json:"request"`
	ReqID   string `json:"reqid"`
}

func newEndStream(reqID string) endStreamRequest {
	return endStreamRequest{Type: "request", Request: requestEndStream, ReqID: reqID}
}

type heartbeatData struct {
	HeartbeatID interface{} `json:"heartbeat_id"`
}

// heartbeatEcho mirrors the peer's heartbeat back. The correlation id is
// echoed verbatim; source and timestamp identify this consumer.
type heartbeatEcho struct {
	Type   string        `json:"type"`
	TS     int64         `json:"ts"`
	Source string        `json:"source"`
	Data   heartbeatData `json:"data"`
}

// heartbeatID digs the correlation id out of an inbound heartbeat,
// tolerating both nested and top-level placement.
func heartbeatID(msg map[string]interface{}) interface{} {
	if data, ok := msg["data"].(map[string]interface{}); ok {
		if id, ok := data["heartbeat_id"]; ok {
			return id
		}
	}
	return msg["heartbeat_id"]
}

// redirectPort extracts the target port of a PortRedirect instruction,
// tolerating both nested and top-level placement.
func redirectPort(msg map[string]interface{}) (int, bool) {
	extract := func(value interface{}) (int, bool) {
		if f, ok := value.(float64); ok && f > 0 {
			return int(f), true
		}
		return 0, false
	}

	if data, ok := msg["data"].(map[string]interface{}); ok {
		if port, ok := extract(data["port"]); ok {
			return port, true
		}
	}
	return extract(msg["port"])
}
