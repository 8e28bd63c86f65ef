package ingest

import (
	"encoding/json"
	"time"
)

// frameEnvelope is peeked at to route a raw inbound message without fully
// decoding it, mirroring the teacher's dispatchMessage event_type switch.
type frameEnvelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
}

type priceLevelFrame struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookFrame is a full order book snapshot push.
type bookFrame struct {
	EventType string            `json:"event_type"`
	AssetID   string            `json:"asset_id"`
	Market    string            `json:"market"`
	Bids      []priceLevelFrame `json:"bids"`
	Asks      []priceLevelFrame `json:"asks"`
	Hash      string            `json:"hash"`
}

// priceChangeFrame is an incremental delta against the last known book for
// an asset: each change replaces the size at that price level (size "0"
// removes the level).
type priceChangeFrame struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Hash      string `json:"hash"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"` // "BUY" or "SELL"
		Size  string `json:"size"`
	} `json:"changes"`
}

// tradeFrame is a single executed trade push.
type tradeFrame struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// errorFrame is the venue's out-of-band rejection push for a prior
// subscribe/unsubscribe request (e.g. batch too large, unknown asset id).
// It carries the same event_type envelope as market frames but never an
// asset_id, so peekEnvelope alone can't route it to a market.
type errorFrame struct {
	EventType string `json:"event_type"`
	Message   string `json:"error"`
}

// rawFrame is one decoded inbound message, tagged with its arrival time so
// downstream heartbeat/staleness logic has a consistent clock.
type rawFrame struct {
	Type       string
	AssetID    string
	ReceivedAt time.Time
	Payload    []byte
}

// peekEnvelope extracts just enough of a raw message to route it, without
// allocating the fully typed frame. Non-JSON or envelope-less messages
// (e.g. the venue's bare PONG) return ok=false.
func peekEnvelope(data []byte) (frameEnvelope, bool) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return frameEnvelope{}, false
	}
	if env.EventType == "" {
		return frameEnvelope{}, false
	}
	return env, true
}
