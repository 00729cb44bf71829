package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

const (
	stateField     = "state"
	serverIDField  = "serverId"
	sessionIDField = "sessionId"
	lastPingField  = "lastPingTs"
)

// alivePing is published on a gateway's liveness topic; the gateway answers
// on ReplyTo.
type alivePing struct {
	DeviceID string `json:"deviceId"`
	ReplyTo  string `json:"replyTo"`
}

type alivePong struct {
	ServerID string `json:"serverId"`
}

// initState writes the initial offline tuple unless session state already
// exists (re-registration preserves it).
func (d *DeviceOperation) initState(ctx context.Context) error {
	h := d.registry.store.HashMap(deviceStateKey(d.id))
	existing, err := h.GetRawAll(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return d.writeState(ctx, StateOffline, "", "")
}

// writeState replaces the whole tuple in one store operation so readers
// never observe a mix of old and new fields.
func (d *DeviceOperation) writeState(ctx context.Context, state State, serverID, sessionID string) error {
	return d.registry.store.HashMap(deviceStateKey(d.id)).PutRawAll(ctx, map[string]string{
		stateField:     string(state),
		serverIDField:  serverID,
		sessionIDField: sessionID,
		lastPingField:  strconv.FormatInt(time.Now().UnixMilli(), 10),
	})
}

// Online marks the device connected through the given gateway session and
// publishes a device:online event.
func (d *DeviceOperation) Online(ctx context.Context, serverID, sessionID string) error {
	if serverID == "" || sessionID == "" {
		return fmt.Errorf("%w: online requires serverId and sessionId", util.ErrIllegalArgument)
	}
	if err := d.writeState(ctx, StateOnline, serverID, sessionID); err != nil {
		return err
	}
	d.publishStateEvent(ctx, onlineTopic, serverID, sessionID)
	util.WithDevice(d.id).WithField("server", serverID).Debug("device online")
	return nil
}

// Offline clears the session tuple and publishes a device:offline event.
func (d *DeviceOperation) Offline(ctx context.Context) error {
	if err := d.writeState(ctx, StateOffline, "", ""); err != nil {
		return err
	}
	d.publishStateEvent(ctx, offlineTopic, "", "")
	util.WithDevice(d.id).Debug("device offline")
	return nil
}

func (d *DeviceOperation) publishStateEvent(ctx context.Context, topic, serverID, sessionID string) {
	payload, err := json.Marshal(StateEvent{
		DeviceID:  d.id,
		ServerID:  serverID,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if _, err := d.registry.store.Topic(topic).Publish(ctx, payload); err != nil {
		util.WithDevice(d.id).WithField("topic", topic).Warnf("state event publish failed: %v", err)
	}
}

// GetSession reads the consistent session tuple. Devices with no state at
// all read as unknown.
func (d *DeviceOperation) GetSession(ctx context.Context) (Session, error) {
	fields, err := d.registry.store.HashMap(deviceStateKey(d.id)).GetRawAll(ctx)
	if err != nil {
		return Session{}, err
	}
	if len(fields) == 0 {
		return Session{State: StateUnknown}, nil
	}
	sess := Session{
		State:     State(fields[stateField]),
		ServerID:  fields[serverIDField],
		SessionID: fields[sessionIDField],
	}
	if sess.State == "" {
		sess.State = StateUnknown
	}
	if ts, err := strconv.ParseInt(fields[lastPingField], 10, 64); err == nil {
		sess.LastPing = time.UnixMilli(ts)
	}
	return sess, nil
}

// GetState reads the device state.
func (d *DeviceOperation) GetState(ctx context.Context) (State, error) {
	sess, err := d.GetSession(ctx)
	if err != nil {
		return StateUnknown, err
	}
	return sess.State, nil
}

// IsOnline reports whether the device currently has a live session.
func (d *DeviceOperation) IsOnline(ctx context.Context) (bool, error) {
	sess, err := d.GetSession(ctx)
	if err != nil {
		return false, err
	}
	return sess.State == StateOnline, nil
}

// GetServerID returns the owning gateway's server id, or empty when the
// device is not online.
func (d *DeviceOperation) GetServerID(ctx context.Context) (string, error) {
	sess, err := d.GetSession(ctx)
	if err != nil {
		return "", err
	}
	return sess.ServerID, nil
}

// GetSessionID returns the connection's session id, or empty when the
// device is not online.
func (d *DeviceOperation) GetSessionID(ctx context.Context) (string, error) {
	sess, err := d.GetSession(ctx)
	if err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

// CheckState reconciles a possibly stale online record against the owning
// gateway. If the gateway's liveness topic has no subscribers, or no
// gateway answers the probe within the check window, the device is
// transitioned to offline. Returns the state after reconciliation.
func (d *DeviceOperation) CheckState(ctx context.Context) (State, error) {
	sess, err := d.GetSession(ctx)
	if err != nil {
		return StateUnknown, err
	}
	if sess.State != StateOnline {
		return sess.State, nil
	}

	alive, err := d.probeGateway(ctx, sess.ServerID)
	if err != nil {
		return sess.State, err
	}
	if alive {
		return StateOnline, nil
	}

	util.WithDevice(d.id).WithField("server", sess.ServerID).
		Info("owning gateway did not answer liveness probe, marking offline")
	if err := d.Offline(ctx); err != nil {
		return sess.State, err
	}
	return StateOffline, nil
}

// probeGateway publishes a ping on the gateway's liveness topic and waits
// for a pong on a one-shot reply topic.
func (d *DeviceOperation) probeGateway(ctx context.Context, serverID string) (bool, error) {
	replyTo := aliveTopic(serverID) + ":reply:" + message.NewMessageID()
	pong := make(chan struct{}, 1)

	sub, err := d.registry.store.Topic(replyTo).Subscribe(ctx, func(context.Context, []byte) {
		select {
		case pong <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return false, err
	}
	defer sub.Close()

	payload, err := json.Marshal(alivePing{DeviceID: d.id, ReplyTo: replyTo})
	if err != nil {
		return false, err
	}
	n, err := d.registry.store.Topic(aliveTopic(serverID)).Publish(ctx, payload)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	select {
	case <-pong:
		return true, nil
	case <-time.After(d.registry.opts.StateCheckTimeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
