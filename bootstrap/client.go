package bootstrap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/marmot-chat/marmot/identity"
	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
	"github.com/marmot-chat/marmot/relay"
)

// Result is what a completed handshake hands back to the controller.
type Result struct {
	GroupID string
}

// RunInvitee drives the invitee side of the handshake (spec §4.2 steps
// 2 and 4): periodically publish a key-package offer and a
// request-welcome heartbeat until a welcome is received, then accept it
// and stop. Returns a Result once accept_welcome succeeds, or a fatal
// *identity.Error if timeout elapses first.
func RunInvitee(ctx context.Context, client *relay.Client, handle *identity.Handle, sessionID string, heartbeat, timeout time.Duration, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	ctx = logger.WithContextID(ctx, sessionID)
	log = log.WithContext(ctx)
	start := time.Now()
	metrics.BootstrapsInitiated.WithLabelValues(string(RoleInvitee)).Inc()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	kp, err := handle.CreateKeyPackage(sessionID)
	if err != nil {
		metrics.BootstrapsFailed.WithLabelValues("key_package_error").Inc()
		return nil, err
	}
	kpBody, err := marshalBody(KeyPackageBody{Event: nil, Bundle: kp.Bundle, PubKey: hex.EncodeToString(kp.PubKey)})
	if err != nil {
		metrics.BootstrapsFailed.WithLabelValues("marshal_error").Inc()
		return nil, identity.NewError(identity.KindFatalConfig, "failed to marshal key package body", err)
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	publish := func() {
		kpEv, err := relay.NewSignedEvent(handle.SignKey(), sessionID, string(TypeKeyPackage), string(RoleInvitee), kpBody)
		if err != nil {
			log.Warn("failed to sign key-package envelope", logger.Error(err))
			return
		}
		if err := client.Publish(kpEv); err != nil {
			log.Warn("failed to publish key-package envelope", logger.Error(err))
		}

		rwEv, err := relay.NewSignedEvent(handle.SignKey(), sessionID, string(TypeRequestWelcome), string(RoleInvitee), nil)
		if err != nil {
			log.Warn("failed to sign request-welcome envelope", logger.Error(err))
			return
		}
		if err := client.Publish(rwEv); err != nil {
			log.Warn("failed to publish request-welcome envelope", logger.Error(err))
		}
	}
	publish()

	for {
		select {
		case <-ctx.Done():
			metrics.BootstrapsFailed.WithLabelValues("timeout").Inc()
			return nil, identity.NewError(identity.KindHandshakeTimeout, "bootstrap did not complete within the configured timeout", ctx.Err())

		case <-ticker.C:
			publish()

		case ev, ok := <-client.Events():
			if !ok {
				metrics.BootstrapsFailed.WithLabelValues("relay_closed").Inc()
				return nil, identity.NewError(identity.KindTransientTransport, "relay connection closed during bootstrap", nil)
			}
			sid, _ := ev.SessionID()
			if sid != sessionID {
				continue
			}
			typ, _ := ev.EnvelopeType()
			if typ != string(TypeWelcome) {
				continue
			}

			var body WelcomeBody
			if err := json.Unmarshal([]byte(ev.Content), &body); err != nil {
				log.Warn("malformed welcome envelope", logger.Error(err))
				continue
			}

			groupID, err := handle.AcceptWelcome(body.Welcome)
			if err != nil {
				if !identity.IsFatal(err) {
					log.Warn("rejected stale welcome, continuing handshake", logger.Error(err))
					continue
				}
				metrics.BootstrapsFailed.WithLabelValues("accept_welcome_error").Inc()
				return nil, err
			}

			metrics.BootstrapsCompleted.WithLabelValues("success").Inc()
			metrics.BootstrapDuration.WithLabelValues("welcome").Observe(time.Since(start).Seconds())
			log.Info("bootstrap complete", logger.String("group_id", groupID), logger.String("role", string(RoleInvitee)))
			return &Result{GroupID: groupID}, nil
		}
	}
}
