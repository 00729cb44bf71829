package message

import (
	"encoding/json"
	"strings"
)

// rawKind tags whatever the gateway left in the reply bucket: nothing, a
// bare error-code token, a full envelope, a plain JSON object, or something
// unrecognizable.
type rawKind int

const (
	rawNone rawKind = iota
	rawErrorCode
	rawEnvelope
	rawJSONObject
	rawUnsupported
)

func classify(raw string, found bool) (rawKind, string) {
	if !found {
		return rawNone, ""
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return rawNone, ""
	}

	// A double-encoded payload ("\"{...}\"" or "\"CLIENT_OFFLINE\"")
	// unwraps to its inner string first.
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
			return classify(inner, true)
		}
	}

	if IsErrorCode(trimmed) {
		return rawErrorCode, trimmed
	}
	if strings.HasPrefix(trimmed, "{") {
		var env envelope
		if err := json.Unmarshal([]byte(trimmed), &env); err == nil && env.Type != "" {
			return rawEnvelope, trimmed
		}
		if json.Valid([]byte(trimmed)) {
			return rawJSONObject, trimmed
		}
	}
	return rawUnsupported, trimmed
}

// ConvertReply interprets the raw reply bucket content and fills the typed
// reply. It never fails: malformed payloads become error codes on the reply.
// Correlation fields are always copied from the request.
func ConvertReply(raw string, found bool, req DeviceMessage, into ReplyMessage) {
	kind, payload := classify(raw, found)

	switch kind {
	case rawNone:
		into.SetError(CodeNoReply)
	case rawErrorCode:
		into.SetError(ErrorCode(payload))
	case rawEnvelope:
		var env envelope
		// Classification already proved this parses.
		json.Unmarshal([]byte(payload), &env)
		if !IsReplyType(env.Type) {
			into.SetError(CodeUnsupportedMessage)
			break
		}
		// The expected type decodes directly; any other reply type goes
		// through the same body decode, which keeps the shared fields —
		// the serialize-then-deserialize bridge for mismatched replies.
		if len(env.Body) > 0 {
			if err := json.Unmarshal(env.Body, into); err != nil {
				into.SetError(CodeUnsupportedMessage)
				break
			}
		}
	case rawJSONObject:
		if err := json.Unmarshal([]byte(payload), into); err != nil {
			into.SetError(CodeUnsupportedMessage)
		}
	default:
		into.SetError(CodeUnsupportedMessage)
	}

	into.From(req)
}
