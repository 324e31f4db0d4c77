package bootstrap

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marmot-chat/marmot/identity"
	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
	"github.com/marmot-chat/marmot/relay"
)

// RunCreator drives the creator side of the handshake (spec §4.2 step 3):
// on first key-package observed, form the group and reply with a welcome.
// It returns as soon as one welcome has been published; repeat
// key-package and request-welcome messages are answered with the same
// welcome only while that first publish keeps failing. Once RunCreator
// has returned, later request-welcome messages are not answered.
func RunCreator(ctx context.Context, client *relay.Client, handle *identity.Handle, sessionID string, timeout time.Duration, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	ctx = logger.WithContextID(ctx, sessionID)
	log = log.WithContext(ctx)
	start := time.Now()
	metrics.BootstrapsInitiated.WithLabelValues(string(RoleCreator)).Inc()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		groupID     string
		welcomeBody []byte
	)

	for {
		select {
		case <-ctx.Done():
			metrics.BootstrapsFailed.WithLabelValues("timeout").Inc()
			return nil, identity.NewError(identity.KindHandshakeTimeout, "bootstrap did not complete within the configured timeout", ctx.Err())

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

			switch typ {
			case string(TypeKeyPackage):
				if groupID != "" {
					// Group already formed for this session; re-send the
					// existing welcome rather than forming a second group.
					if err := replyWelcome(client, handle, sessionID, groupID, welcomeBody); err != nil {
						log.Warn("failed to resend welcome", logger.Error(err))
					}
					continue
				}

				var body KeyPackageBody
				if err := json.Unmarshal([]byte(ev.Content), &body); err != nil {
					log.Warn("malformed key-package envelope", logger.Error(err))
					continue
				}

				kp, err := identity.ParseKeyPackageBundle(body.Bundle)
				if err != nil {
					log.Warn("malformed key package bundle", logger.Error(err))
					continue
				}
				gid, welcomes, err := handle.CreateGroup(identity.GroupConfig{}, []identity.KeyPackage{kp})
				if err != nil {
					metrics.BootstrapsFailed.WithLabelValues("create_group_error").Inc()
					return nil, err
				}
				if len(welcomes) != 1 {
					metrics.BootstrapsFailed.WithLabelValues("create_group_error").Inc()
					return nil, identity.NewError(identity.KindFatalCrypto, "create_group did not return exactly one welcome for a single invitee", nil)
				}
				groupID = gid
				welcomeBody = welcomes[0]

				if err := replyWelcome(client, handle, sessionID, groupID, welcomeBody); err != nil {
					log.Warn("failed to send welcome", logger.Error(err))
					continue
				}

				metrics.BootstrapsCompleted.WithLabelValues("success").Inc()
				metrics.BootstrapDuration.WithLabelValues("welcome").Observe(time.Since(start).Seconds())
				log.Info("bootstrap complete", logger.String("group_id", groupID), logger.String("role", string(RoleCreator)))
				return &Result{GroupID: groupID}, nil

			case string(TypeRequestWelcome):
				if groupID == "" {
					continue // no key-package observed yet; nothing to answer
				}
				if err := replyWelcome(client, handle, sessionID, groupID, welcomeBody); err != nil {
					log.Warn("failed to resend welcome", logger.Error(err))
				}
			}
		}
	}
}

func replyWelcome(client *relay.Client, handle *identity.Handle, sessionID, groupID string, welcome []byte) error {
	body, err := marshalBody(WelcomeBody{Welcome: welcome, GroupID: groupID})
	if err != nil {
		return err
	}
	ev, err := relay.NewSignedEvent(handle.SignKey(), sessionID, string(TypeWelcome), string(RoleCreator), body)
	if err != nil {
		return err
	}
	return client.Publish(ev)
}
