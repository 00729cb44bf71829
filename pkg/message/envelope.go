package message

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	MessageID string          `json:"messageId"`
	DeviceID  string          `json:"deviceId"`
	Timestamp int64           `json:"timestamp"`
	Type      Type            `json:"type"`
	Headers   Headers         `json:"headers,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

type functionInvokeBody struct {
	FunctionID string              `json:"functionId"`
	Inputs     []FunctionParameter `json:"inputs,omitempty"`
}

type readPropertyBody struct {
	Properties []string `json:"properties"`
}

type writePropertyBody struct {
	Properties map[string]interface{} `json:"properties"`
}

type replyBody struct {
	Success    bool                   `json:"success"`
	Code       ErrorCode              `json:"code,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Output     interface{}            `json:"output,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Encode serializes a message into the wire envelope.
func Encode(msg DeviceMessage) ([]byte, error) {
	var body interface{}
	switch m := msg.(type) {
	case *FunctionInvoke:
		body = functionInvokeBody{FunctionID: m.FunctionID, Inputs: m.Inputs}
	case *ReadProperty:
		body = readPropertyBody{Properties: m.Properties}
	case *WriteProperty:
		body = writePropertyBody{Properties: m.Properties}
	case *FunctionInvokeReply:
		body = replyBody{Success: m.Success, Code: m.Code, Message: m.Message, Output: m.Output}
	case *ReadPropertyReply:
		body = replyBody{Success: m.Success, Code: m.Code, Message: m.Message, Properties: m.Properties}
	case *WritePropertyReply:
		body = replyBody{Success: m.Success, Code: m.Code, Message: m.Message, Properties: m.Properties}
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", msg.MessageType(), err)
	}
	return json.Marshal(envelope{
		MessageID: msg.MessageID(),
		DeviceID:  msg.DeviceID(),
		Timestamp: msg.Timestamp(),
		Type:      msg.MessageType(),
		Headers:   msg.Headers(),
		Body:      raw,
	})
}

// Decode parses a wire envelope into its typed message.
func Decode(data []byte) (DeviceMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	common := Common{ID: env.MessageID, Device: env.DeviceID, Time: env.Timestamp, Header: env.Headers}

	var msg DeviceMessage
	switch env.Type {
	case TypeFunctionInvoke:
		m := &FunctionInvoke{Common: common}
		if len(env.Body) > 0 {
			var b functionInvokeBody
			if err := json.Unmarshal(env.Body, &b); err != nil {
				return nil, fmt.Errorf("decoding %s body: %w", env.Type, err)
			}
			m.FunctionID, m.Inputs = b.FunctionID, b.Inputs
		}
		msg = m
	case TypeReadProperty:
		m := &ReadProperty{Common: common}
		if len(env.Body) > 0 {
			var b readPropertyBody
			if err := json.Unmarshal(env.Body, &b); err != nil {
				return nil, fmt.Errorf("decoding %s body: %w", env.Type, err)
			}
			m.Properties = b.Properties
		}
		msg = m
	case TypeWriteProperty:
		m := &WriteProperty{Common: common}
		if len(env.Body) > 0 {
			var b writePropertyBody
			if err := json.Unmarshal(env.Body, &b); err != nil {
				return nil, fmt.Errorf("decoding %s body: %w", env.Type, err)
			}
			m.Properties = b.Properties
		}
		msg = m
	case TypeFunctionInvokeReply:
		m := &FunctionInvokeReply{}
		if err := decodeReplyBody(env, m); err != nil {
			return nil, err
		}
		m.Common = common
		msg = m
	case TypeReadPropertyReply:
		m := &ReadPropertyReply{}
		if err := decodeReplyBody(env, m); err != nil {
			return nil, err
		}
		m.Common = common
		msg = m
	case TypeWritePropertyReply:
		m := &WritePropertyReply{}
		if err := decodeReplyBody(env, m); err != nil {
			return nil, err
		}
		m.Common = common
		msg = m
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	return msg, nil
}

func decodeReplyBody(env envelope, into interface{}) error {
	if len(env.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Body, into); err != nil {
		return fmt.Errorf("decoding %s body: %w", env.Type, err)
	}
	return nil
}

// IsReplyType reports whether t names a reply message.
func IsReplyType(t Type) bool {
	switch t {
	case TypeFunctionInvokeReply, TypeReadPropertyReply, TypeWritePropertyReply:
		return true
	}
	return false
}
