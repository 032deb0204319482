// Package cluster fans wakeup hints out to every node's dispatcher
// worker. Hints are advisory: a lost message delays a firing until the
// sleeping node's own timer expires, it never loses the firing.
package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Hinter is the worker-side surface a listener delivers hints to.
type Hinter interface {
	SetNextExpiry(at time.Time)
	Refresh()
}

const (
	opSetNextExpiry = "set_next_expiry"
	opRefresh       = "refresh"
)

// hint is the wire form shared by the redis and postgres transports.
type hint struct {
	Op        string    `json:"op"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func encodeExpiry(at time.Time) ([]byte, error) {
	return json.Marshal(hint{Op: opSetNextExpiry, ExpiresAt: at.UTC()})
}

func encodeRefresh() ([]byte, error) {
	return json.Marshal(hint{Op: opRefresh})
}

// deliver decodes one wire message and forwards it. Unknown or malformed
// payloads are logged and dropped; a bad peer must not wedge the loop.
func deliver(payload []byte, h Hinter) {
	var m hint
	if err := json.Unmarshal(payload, &m); err != nil {
		slog.Warn("cluster: dropping malformed hint", "error", err)
		return
	}
	switch m.Op {
	case opSetNextExpiry:
		h.SetNextExpiry(m.ExpiresAt)
	case opRefresh:
		h.Refresh()
	default:
		slog.Warn("cluster: dropping unknown hint", "op", m.Op)
	}
}

func validChannel(name string) error {
	if name == "" {
		return fmt.Errorf("cluster: empty channel name")
	}
	return nil
}
