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

// InviteResult is what a completed mid-group invite hands back to the
// controller: the commit wrapper still needs to reach the rest of the
// group over the transport and be merged locally, which only the
// controller can do (it owns both the handle and the transport bridge).
type InviteResult struct {
	GroupID       string
	CommitWrapper []byte
}

// RunInviteAdmin drives the inviting admin's side of adding a third party
// to an already-established group (spec §4.2's welcome exchange, reused
// for post-bootstrap invites): unlike RunCreator, there is no group left
// to form — handle.InviteMember commits the existing roster to a new
// epoch and produces a welcome addressed to candidate in the same step.
// sessionID is the rendezvous channel both sides watch; the controller
// passes the candidate's own pubkey hex (the group's own channelID is not
// reused, since the invitee has no group state yet to authenticate into it). The invitee
// side is RunInvitee unmodified: it already publishes a key-package on
// its own heartbeat without needing to be asked, so TypeRequestKeyPackage
// is never published here.
func RunInviteAdmin(ctx context.Context, client *relay.Client, handle *identity.Handle, sessionID, groupID string, isAdmin bool, timeout time.Duration, log logger.Logger) (*InviteResult, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	start := time.Now()
	metrics.BootstrapsInitiated.WithLabelValues(string(RoleCreator)).Inc()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		commitWrapper []byte
		welcomeBody   []byte
	)

	for {
		select {
		case <-ctx.Done():
			metrics.BootstrapsFailed.WithLabelValues("timeout").Inc()
			return nil, identity.NewError(identity.KindHandshakeTimeout, "invite did not complete within the configured timeout", ctx.Err())

		case ev, ok := <-client.Events():
			if !ok {
				metrics.BootstrapsFailed.WithLabelValues("relay_closed").Inc()
				return nil, identity.NewError(identity.KindTransientTransport, "relay connection closed during invite", nil)
			}
			sid, _ := ev.SessionID()
			if sid != sessionID {
				continue
			}
			typ, _ := ev.EnvelopeType()

			switch typ {
			case string(TypeKeyPackage):
				if commitWrapper != nil {
					if err := replyWelcome(client, handle, sessionID, groupID, welcomeBody); err != nil {
						log.Warn("failed to resend invite welcome", logger.Error(err))
					}
					continue
				}

				var body KeyPackageBody
				if err := json.Unmarshal([]byte(ev.Content), &body); err != nil {
					log.Warn("malformed key-package envelope", logger.Error(err))
					continue
				}

				candidate, err := identity.ParseKeyPackageBundle(body.Bundle)
				if err != nil {
					log.Warn("malformed key package bundle", logger.Error(err))
					continue
				}
				wrapper, welcome, err := handle.InviteMember(groupID, candidate, isAdmin)
				if err != nil {
					metrics.BootstrapsFailed.WithLabelValues("invite_member_error").Inc()
					return nil, err
				}
				commitWrapper = wrapper
				welcomeBody = welcome

				if err := replyWelcome(client, handle, sessionID, groupID, welcomeBody); err != nil {
					log.Warn("failed to send invite welcome", logger.Error(err))
					continue
				}

				metrics.BootstrapsCompleted.WithLabelValues("success").Inc()
				metrics.BootstrapDuration.WithLabelValues("welcome").Observe(time.Since(start).Seconds())
				log.Info("invite complete", logger.String("group_id", groupID), logger.String("role", string(RoleCreator)))
				return &InviteResult{GroupID: groupID, CommitWrapper: commitWrapper}, nil

			case string(TypeRequestWelcome):
				if commitWrapper == nil {
					continue
				}
				if err := replyWelcome(client, handle, sessionID, groupID, welcomeBody); err != nil {
					log.Warn("failed to resend invite welcome", logger.Error(err))
				}
			}
		}
	}
}
