// Package device implements the distributed device registry: product and
// device records, per-device session state, entity configuration with
// product inheritance, and the cross-node request/reply rendezvous that
// delivers commands to whichever gateway node owns a device's connection.
package device

import "time"

// State is a device's session state.
type State string

const (
	// StateUnknown means the device has no record and no session state.
	StateUnknown State = "unknown"
	// StateOffline means the device is registered but has no live connection.
	StateOffline State = "offline"
	// StateOnline means a gateway node owns a live connection.
	StateOnline State = "online"
	// StateNoActive means the device is administratively disabled.
	StateNoActive State = "noActive"
)

// DeviceInfo is the persistent device record. ProductID is a required
// foreign key; Protocol, when set, overrides the product's protocol.
type DeviceInfo struct {
	ID            string                 `json:"id"`
	ProductID     string                 `json:"productId"`
	ProductName   string                 `json:"productName,omitempty"`
	Protocol      string                 `json:"protocol,omitempty"`
	CreatorID     string                 `json:"creatorId,omitempty"`
	ProjectID     string                 `json:"projectId,omitempty"`
	Type          string                 `json:"type,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// ProductInfo is the persistent product record. Products are device
// templates; devices inherit protocol and configuration defaults from them.
type ProductInfo struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	ProjectID string                 `json:"projectId,omitempty"`
	Protocol  string                 `json:"protocol"`
	Version   string                 `json:"version,omitempty"`
	Describe  string                 `json:"describe,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session is the consistent session-state tuple of a device. When State is
// StateOnline both ServerID and SessionID are non-empty; when StateOffline
// both are empty.
type Session struct {
	State     State
	ServerID  string
	SessionID string
	LastPing  time.Time
}

// StateEvent is published on the device:online / device:offline topics.
type StateEvent struct {
	DeviceID  string `json:"deviceId"`
	ServerID  string `json:"serverId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
