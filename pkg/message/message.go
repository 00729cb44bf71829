// Package message defines the wire envelope and the typed request/reply
// messages exchanged between application nodes and gateway nodes.
//
// Envelope shape (JSON): {messageId, deviceId, timestamp, type, headers{},
// body{}} — bit-exact with peer nodes, so field names here are load-bearing.
package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type discriminates message payloads in the envelope.
type Type string

const (
	TypeFunctionInvoke      Type = "function"
	TypeFunctionInvokeReply Type = "functionReply"
	TypeReadProperty        Type = "readProperty"
	TypeReadPropertyReply   Type = "readPropertyReply"
	TypeWriteProperty       Type = "writeProperty"
	TypeWritePropertyReply  Type = "writePropertyReply"
)

// Headers carries per-message metadata.
type Headers map[string]interface{}

// DeviceMessage is implemented by every request and reply.
type DeviceMessage interface {
	MessageID() string
	DeviceID() string
	Timestamp() int64
	MessageType() Type
	Headers() Headers
}

// NewMessageID produces a globally unique message ID.
func NewMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Now returns the current time in epoch milliseconds, the envelope's
// timestamp unit.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Common holds the fields shared by all messages.
type Common struct {
	ID     string  `json:"messageId"`
	Device string  `json:"deviceId"`
	Time   int64   `json:"timestamp"`
	Header Headers `json:"headers,omitempty"`
}

func (c *Common) MessageID() string { return c.ID }
func (c *Common) DeviceID() string  { return c.Device }
func (c *Common) Timestamp() int64  { return c.Time }
func (c *Common) Headers() Headers  { return c.Header }

// AddHeader sets a header, allocating the map on first use.
func (c *Common) AddHeader(key string, value interface{}) {
	if c.Header == nil {
		c.Header = Headers{}
	}
	c.Header[key] = value
}

// FunctionParameter is one named input of a function invocation.
type FunctionParameter struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// FunctionInvoke asks a device to run a function.
type FunctionInvoke struct {
	Common
	FunctionID string              `json:"functionId"`
	Inputs     []FunctionParameter `json:"inputs,omitempty"`
}

func (m *FunctionInvoke) MessageType() Type { return TypeFunctionInvoke }

// Input returns the named input value, if present.
func (m *FunctionInvoke) Input(name string) (interface{}, bool) {
	for _, p := range m.Inputs {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// ReadProperty asks a device for current property values.
type ReadProperty struct {
	Common
	Properties []string `json:"properties"`
}

func (m *ReadProperty) MessageType() Type { return TypeReadProperty }

// WriteProperty asks a device to update property values.
type WriteProperty struct {
	Common
	Properties map[string]interface{} `json:"properties"`
}

func (m *WriteProperty) MessageType() Type { return TypeWriteProperty }
