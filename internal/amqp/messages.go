package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"finpulse/internal/store"
)

// ChangeMessage announces a committed document write. It carries only
// identifiers; consumers re-read the document from the store.
type ChangeMessage struct {
	Collection string    `json:"collection"`
	Owner      string    `json:"owner"`
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	Origin     string    `json:"origin,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChangeMessage builds a message from a store change, stamping the
// current time when the change has none.
func NewChangeMessage(c store.Change) *ChangeMessage {
	ts := c.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ChangeMessage{
		Collection: c.Collection,
		Owner:      c.Owner,
		ID:         c.ID,
		Op:         c.Op,
		Origin:     c.Origin,
		Timestamp:  ts,
	}
}

// Change converts the message back into a store change.
func (m *ChangeMessage) Change() store.Change {
	return store.Change{
		Collection: m.Collection,
		Owner:      m.Owner,
		ID:         m.ID,
		Op:         m.Op,
		Origin:     m.Origin,
		At:         m.Timestamp,
	}
}

// RoutingKey is "<collection>.<op>", e.g. "transactions.create".
func (m *ChangeMessage) RoutingKey() string {
	return RoutingKey(m.Collection, m.Op)
}

func RoutingKey(collection, op string) string {
	return fmt.Sprintf("%s.%s", collection, op)
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message and checks its identifiers.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Collection == "" || msg.ID == "" {
		return nil, fmt.Errorf("change message missing collection or id")
	}
	return &msg, nil
}
