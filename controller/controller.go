// Package controller implements the single-threaded operation queue and
// event loop that sequences the other components (spec §4.4 C4): it is
// the only place group state, transport subscriptions, and the pending
// frame queue are driven from, so no component needs its own locking
// against the others.
package controller

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/marmot-chat/marmot/bootstrap"
	"github.com/marmot-chat/marmot/identity"
	"github.com/marmot-chat/marmot/internal/config"
	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
	"github.com/marmot-chat/marmot/media"
	"github.com/marmot-chat/marmot/relay"
	"github.com/marmot-chat/marmot/session"
	"github.com/marmot-chat/marmot/transport"
)

// opQueueCapacity bounds the operation and event queues. Buffered so a
// handler can enqueue a follow-up operation (or emit an event) without
// blocking on itself; Run drains strictly one at a time regardless.
const opQueueCapacity = 128

// frameQueueCapacity bounds the fan-in channel every peer subscription
// writes into before a frame becomes an opIngestFrame operation.
const frameQueueCapacity = 128

// Controller owns the engine's single operation queue and the component
// handles it sequences. Only the Run goroutine ever touches component
// state directly; every other goroutine (transport readers, handshake
// workers) communicates exclusively by enqueuing operations or events,
// both of which are channels and therefore safe to use concurrently.
type Controller struct {
	cfg    *config.Config
	handle *identity.Handle
	sess   *session.Session
	relay  *relay.Client
	bridge transport.Bridge
	log    logger.Logger

	mediaCache *media.Cache

	ops    chan operation
	events chan Event

	frames  chan transport.Frame
	pending *pendingFrameQueue

	subscriptions map[string]struct{}
	knownMembers  map[string]struct{}
	commitTotal   int

	startedAt time.Time
	cancel    context.CancelFunc
}

// NewController wires a Controller from a validated engine config. It
// does not dial anything — Run, followed by Bootstrap or ConnectTransport,
// drives the actual handshake and transport connection.
func NewController(cfg *config.Config, log logger.Logger) (*Controller, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	secret, err := hex.DecodeString(cfg.Secret)
	if err != nil {
		return nil, identity.NewError(identity.KindFatalConfig, "invalid secret encoding", err)
	}
	handle, err := identity.NewHandle(secret, log)
	if err != nil {
		return nil, err
	}

	return &Controller{
		cfg:           cfg,
		handle:        handle,
		sess:          session.New(cfg, cfg.SessionID, secret),
		relay:         relay.NewClient(cfg.SignallingURL, log),
		log:           log,
		mediaCache:    media.NewCache(),
		ops:           make(chan operation, opQueueCapacity),
		events:        make(chan Event, opQueueCapacity),
		frames:        make(chan transport.Frame, frameQueueCapacity),
		pending:       newPendingFrameQueue(log),
		subscriptions: make(map[string]struct{}),
		knownMembers:  make(map[string]struct{}),
		startedAt:     time.Now(),
	}, nil
}

// Events is the host-facing event stream (spec §4.4 "Emitted events").
func (c *Controller) Events() <-chan Event { return c.events }

// Run drains the operation queue until ctx is cancelled or Shutdown is
// processed. It also starts the background frame fan-in pump. Run
// returns when the engine has fully stopped.
func (c *Controller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.pumpFrames(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.ops:
			c.dispatch(ctx, op)
			if op.kind == opShutdown {
				return
			}
		}
	}
}

func (c *Controller) enqueue(op operation) {
	select {
	case c.ops <- op:
	default:
		c.log.Warn("operation queue full, dropping operation", logger.Int("kind", int(op.kind)))
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event queue full, dropping event (host not draining fast enough)")
	}
}

func (c *Controller) emitErr(err error) {
	if err == nil {
		return
	}
	var ie *identity.Error
	if errors.As(err, &ie) {
		c.emit(errorEventFrom(ie))
		return
	}
	c.emit(errorEvent(err.Error(), true, identity.RecoveryNone))
}

// --- public operation surface (spec §4.4 "Operations" + §6.3) ---

func (c *Controller) Bootstrap()                  { c.enqueue(operation{kind: opBootstrap}) }
func (c *Controller) ConnectTransport()           { c.enqueue(operation{kind: opConnectTransport}) }
func (c *Controller) IngestFrame(frame []byte)    { c.enqueue(operation{kind: opIngestFrame, frame: frame}) }
func (c *Controller) SendMessage(text string)     { c.enqueue(operation{kind: opSendMessage, text: text}) }
func (c *Controller) RotateEpoch()                { c.enqueue(operation{kind: opRotateEpoch}) }
func (c *Controller) Shutdown()                   { c.enqueue(operation{kind: opShutdown}) }

func (c *Controller) InviteMember(pubKeyHex string, isAdmin bool) {
	c.enqueue(operation{kind: opInviteMember, pubKey: pubKeyHex, isAdmin: isAdmin})
}

func (c *Controller) RemoveMember(pubKeyHex string) {
	c.enqueue(operation{kind: opRemoveMember, pubKey: pubKeyHex})
}

// CurrentEpoch and GroupRoot are read-only host-surface queries (spec
// §6.3); they don't mutate engine state so they bypass the queue.
func (c *Controller) CurrentEpoch() (uint64, error) {
	groupID := c.sess.GroupID()
	if groupID == "" {
		return 0, identity.NewError(identity.KindFatalConfig, "current_epoch called before group id is known", nil)
	}
	return c.handle.CurrentEpoch(groupID)
}

func (c *Controller) GroupRoot() (string, error) {
	groupID := c.sess.GroupID()
	if groupID == "" {
		return "", identity.NewError(identity.KindFatalConfig, "group_root called before group id is known", nil)
	}
	return c.handle.DeriveGroupRoot(groupID)
}

// --- dispatch ---

func (c *Controller) dispatch(ctx context.Context, op operation) {
	switch op.kind {
	case opBootstrap:
		c.handleBootstrap(ctx)
	case opConnectTransport:
		c.handleConnectTransport(ctx)
	case opIngestFrame:
		c.handleIngestFrame(ctx, op.frame)
	case opSendMessage:
		c.handleSendMessage(ctx, op.text)
	case opInviteMember:
		c.handleInviteMember(ctx, op.pubKey, op.isAdmin)
	case opRemoveMember:
		c.handleRemoveMember(ctx, op.pubKey)
	case opRotateEpoch:
		c.handleRotateEpoch(ctx)
	case opShutdown:
		c.handleShutdown()
	case opBootstrapDone:
		c.handleBootstrapDone(ctx, op.bootstrapResult)
	}
}

// --- Bootstrap ---

func (c *Controller) handleBootstrap(ctx context.Context) {
	c.emit(handshakeEvent("started"))
	c.emit(statusEvent("bootstrapping"))

	go func() {
		if err := c.relay.Connect(ctx); err != nil {
			c.enqueue(operation{kind: opBootstrapDone, bootstrapResult: &bootstrapOutcome{err: err}})
			return
		}

		var (
			result *bootstrap.Result
			err    error
		)
		switch c.sess.Role() {
		case session.RoleCreator:
			result, err = bootstrap.RunCreator(ctx, c.relay, c.handle, c.sess.ChannelID(), c.cfg.BootstrapTimeout, c.log)
		case session.RoleInvitee:
			result, err = bootstrap.RunInvitee(ctx, c.relay, c.handle, c.sess.ChannelID(), c.cfg.BootstrapHeartbeat, c.cfg.BootstrapTimeout, c.log)
		default:
			err = identity.NewError(identity.KindFatalConfig, fmt.Sprintf("unknown session role %q", c.sess.Role()), nil)
		}
		if err != nil {
			c.enqueue(operation{kind: opBootstrapDone, bootstrapResult: &bootstrapOutcome{err: err}})
			return
		}
		c.enqueue(operation{kind: opBootstrapDone, bootstrapResult: &bootstrapOutcome{groupID: result.GroupID}})
	}()
}

func (c *Controller) handleBootstrapDone(ctx context.Context, res *bootstrapOutcome) {
	if res.err != nil {
		c.emitErr(res.err)
		return
	}

	if res.commitWrapper != nil {
		// A mid-group invite completed: merge the add-commit locally,
		// same as any other self-originated commit, then broadcast it.
		c.handleCommitMerge(ctx, "self")
		if err := c.publishWrapper(ctx, res.commitWrapper); err != nil {
			c.log.Warn("failed to publish invite commit wrapper", logger.Error(err))
		}
		return
	}

	c.sess.SetGroupID(res.groupID)
	c.log = c.log.WithContext(logger.WithGroupID(context.Background(), res.groupID))
	c.emit(handshakeEvent("complete"))
	c.emit(statusEvent("connected"))
	c.handleConnectTransport(ctx)
}

// --- ConnectTransport ---

func (c *Controller) handleConnectTransport(ctx context.Context) {
	groupID := c.sess.GroupID()
	if groupID == "" {
		c.emitErr(identity.NewError(identity.KindFatalConfig, "connect_transport called before group id is known", nil))
		return
	}

	root, err := c.handle.DeriveGroupRoot(groupID)
	if err != nil {
		c.emitErr(err)
		return
	}

	bridge := transport.NewMoQBridge(c.sess.MoQURL(), root, c.log)
	if err := bridge.Connect(ctx); err != nil {
		c.emitErr(identity.NewError(identity.KindTransientTransport, "moq connect failed", err))
		return
	}
	c.bridge = bridge

	// Readiness carries no engine state to mutate, only a host
	// notification, so it's safe to emit directly off Connect's
	// background goroutine rather than round-tripping through the
	// operation queue.
	go func() {
		<-bridge.Ready()
		c.emit(readyEvent(true))
	}()

	c.syncRoster(ctx)
}

// --- IngestFrame / commit merge / pending replay ---

func (c *Controller) handleIngestFrame(ctx context.Context, frame []byte) {
	outcome, err := c.handle.IngestWrapper(frame)
	if err != nil {
		c.emitErr(err)
		return
	}
	c.applyOutcome(ctx, frame, outcome)
}

// applyOutcome implements spec §4.4's "Outcome handling for IngestFrame"
// table. frame is only needed to re-queue on a transient failure.
func (c *Controller) applyOutcome(ctx context.Context, frame []byte, outcome identity.Outcome) {
	if app, ok := outcome.Application(); ok {
		c.emit(messageEvent(Message{
			Author:    app.Author,
			Content:   app.Payload,
			CreatedAt: app.CreatedAt,
			Local:     app.Author == c.handle.PubKeyHex(),
		}))
		return
	}
	if _, ok := outcome.Commit(); ok {
		c.handleCommitMerge(ctx, "remote")
		return
	}
	if _, ok := outcome.Welcome(); ok {
		// The in-memory mls.Library never produces this via IngestWrapper —
		// welcomes arrive out-of-band through the bootstrap handshake — but
		// a conformant Library could, so the branch stays for completeness.
		return
	}
	if outcome.IsProposal() {
		return // bare proposal with no accompanying commit yet; nothing to act on.
	}
	if u, ok := outcome.Unprocessable(); ok {
		if u.Transient {
			c.pending.push(frame)
			return
		}
		c.emit(errorEvent(u.Reason, true, identity.RecoveryRefresh))
	}
}

func (c *Controller) handleCommitMerge(ctx context.Context, origin string) {
	groupID := c.sess.GroupID()
	epochAfter, err := c.handle.MergePendingCommit(groupID)
	if err != nil {
		c.emitErr(err)
		return
	}
	metrics.CommitsMerged.WithLabelValues(groupID, origin).Inc()
	c.commitTotal++
	c.emit(commitEvent(c.commitTotal))

	_ = epochAfter // recorded via metrics.GroupEpoch inside MergePendingCommit itself

	c.syncRoster(ctx)
	c.replayPending(ctx)
}

// replayPending implements spec §4.4's "Pending-frame retry": after every
// commit merge, replay the queue in arrival order; still-transient
// frames go back to the tail (or get dropped once they exhaust their
// retry budget), so a frame that depends on two chained commits drains
// correctly across repeated merges.
func (c *Controller) replayPending(ctx context.Context) {
	items := c.pending.drain()
	for _, item := range items {
		outcome, err := c.handle.IngestWrapper(item.frame)
		if err != nil {
			c.emitErr(err)
			continue
		}
		if u, ok := outcome.Unprocessable(); ok && u.Transient {
			c.pending.requeue(item)
			continue
		}
		c.applyOutcome(ctx, item.frame, outcome)
	}
}

// --- SendMessage ---

func (c *Controller) handleSendMessage(ctx context.Context, text string) {
	groupID := c.sess.GroupID()
	wrapper, err := c.handle.CreateMessage(groupID, []byte(text))
	if err != nil {
		c.emitErr(err)
		return
	}
	if err := c.publishWrapper(ctx, wrapper); err != nil {
		c.emitErr(identity.NewError(identity.KindTransientTransport, "publish message failed", err))
		return
	}
	c.emit(messageEvent(Message{
		Author:    c.handle.PubKeyHex(),
		Content:   []byte(text),
		CreatedAt: time.Now(),
		Local:     true,
	}))
}

func (c *Controller) publishWrapper(ctx context.Context, wrapper []byte) error {
	if c.bridge == nil {
		return fmt.Errorf("transport not connected")
	}
	root, err := c.handle.DeriveGroupRoot(c.sess.GroupID())
	if err != nil {
		return err
	}
	path := transport.WrapperPath(root, c.handle.PubKeyHex())
	return c.bridge.Publish(ctx, path, wrapper)
}

// --- InviteMember ---

// handleInviteMember drives bootstrap.RunInviteAdmin on a rendezvous
// session keyed by the candidate's own identity pubkey: the admin
// already knows who they mean to invite (unlike initial bootstrap, which
// needs a pre-shared random channel id since neither side knows the
// other's pubkey yet), so no separate out-of-band channel id is needed.
func (c *Controller) handleInviteMember(ctx context.Context, pubKeyHex string, isAdmin bool) {
	if !c.sess.IsAdmin(c.handle.PubKeyHex()) {
		c.emit(errorEvent("invite_member requires admin privileges", false, identity.RecoveryNone))
		return
	}

	groupID := c.sess.GroupID()
	c.emit(inviteGeneratedEvent(pubKeyHex, isAdmin))

	go func() {
		result, err := bootstrap.RunInviteAdmin(ctx, c.relay, c.handle, pubKeyHex, groupID, isAdmin, c.cfg.BootstrapTimeout, c.log)
		if err != nil {
			c.enqueue(operation{kind: opBootstrapDone, bootstrapResult: &bootstrapOutcome{err: err}})
			return
		}
		c.enqueue(operation{kind: opBootstrapDone, bootstrapResult: &bootstrapOutcome{
			groupID:       result.GroupID,
			commitWrapper: result.CommitWrapper,
		}})
	}()
}

// --- RemoveMember ---

func (c *Controller) handleRemoveMember(ctx context.Context, pubKeyHex string) {
	groupID := c.sess.GroupID()
	wrapper, err := c.handle.RemoveMember(groupID, pubKeyHex)
	if err != nil {
		c.emitErr(err)
		return
	}
	c.handleCommitMerge(ctx, "self")
	if err := c.publishWrapper(ctx, wrapper); err != nil {
		c.log.Warn("failed to publish remove_member commit wrapper", logger.Error(err))
	}
}

// --- RotateEpoch ---

// handleRotateEpoch merges the self-update commit directly rather than
// waiting for an echo over the transport: the controller never
// subscribes to its own wrapper track (spec §9 roster policy only
// covers peers), so there is no echo to wait for.
func (c *Controller) handleRotateEpoch(ctx context.Context) {
	groupID := c.sess.GroupID()
	wrapper, err := c.handle.SelfUpdate(groupID)
	if err != nil {
		c.emitErr(err)
		return
	}
	c.handleCommitMerge(ctx, "self")
	if err := c.publishWrapper(ctx, wrapper); err != nil {
		c.log.Warn("failed to publish rotate_epoch commit wrapper", logger.Error(err))
	}
}

// --- Roster sync / subscription policy (spec §4.4 "Roster policy") ---

func (c *Controller) syncRoster(ctx context.Context) {
	groupID := c.sess.GroupID()
	members, err := c.handle.ListMembers(groupID)
	if err != nil {
		c.emitErr(err)
		return
	}

	out := make([]Member, len(members))
	rosterMembers := make([]session.RosterMember, len(members))
	newSet := make(map[string]struct{}, len(members))
	for i, m := range members {
		out[i] = Member{PubKey: m.PubKey, IsAdmin: m.IsAdmin}
		rosterMembers[i] = session.RosterMember{PubKey: m.PubKey, IsAdmin: m.IsAdmin}
		newSet[m.PubKey] = struct{}{}
	}

	// A departed member is never unsubscribed (its track simply stops
	// producing frames); it is only surfaced to the host.
	for pk := range c.knownMembers {
		if _, ok := newSet[pk]; !ok {
			c.emit(memberLeftEvent(pk))
		}
	}
	c.knownMembers = newSet

	c.sess.SyncRoster(rosterMembers)
	c.emit(rosterEvent(out))
	c.subscribeNewPeers(ctx, members)
}

func (c *Controller) subscribeNewPeers(ctx context.Context, members []identity.Member) {
	if c.bridge == nil {
		return
	}
	own := c.handle.PubKeyHex()
	for _, m := range members {
		if m.PubKey == own {
			continue
		}
		if _, ok := c.subscriptions[m.PubKey]; ok {
			continue
		}
		if err := c.bridge.SubscribePeer(ctx, m.PubKey, c.frames); err != nil {
			c.log.Warn("failed to subscribe to peer wrapper track", logger.String("peer", m.PubKey), logger.Error(err))
			continue
		}
		c.subscriptions[m.PubKey] = struct{}{}
		c.emit(memberJoinedEvent(Member{PubKey: m.PubKey, IsAdmin: m.IsAdmin}))
	}
}

func (c *Controller) pumpFrames(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			c.enqueue(operation{kind: opIngestFrame, frame: f.Payload})
		}
	}
}

// --- Shutdown ---

func (c *Controller) handleShutdown() {
	c.emit(statusEvent("shutting down"))
	if c.bridge != nil {
		if err := c.bridge.Close(); err != nil {
			c.log.Warn("error closing transport on shutdown", logger.Error(err))
		}
	}
	if err := c.relay.Close(); err != nil {
		c.log.Warn("error closing relay client on shutdown", logger.Error(err))
	}
	metrics.SessionDuration.Observe(time.Since(c.startedAt).Seconds())
	if c.cancel != nil {
		c.cancel()
	}
	close(c.events)
}

// --- Media crypto primitives (spec §4.5, §6.3) ---
//
// These bypass the operation queue: they are pure, CPU-bound functions of
// exported MLS secrets plus the per-generation key cache (both already
// safe for concurrent use), so there is no engine state for them to race
// against. Audio capture/playback loops call these directly per frame
// rather than round-tripping through Run.

// EncryptAudioFrame implements encrypt_audio_frame for a frame this
// process is producing on trackLabel at the current epoch.
func (c *Controller) EncryptAudioFrame(trackLabel string, counter uint32, plaintext []byte, groupSeq, frameIdx uint64, keyframe bool) ([]byte, error) {
	groupID := c.sess.GroupID()
	epoch, err := c.handle.CurrentEpoch(groupID)
	if err != nil {
		return nil, err
	}
	leaf, err := c.handle.OwnLeafBytes(groupID)
	if err != nil {
		return nil, err
	}
	root, err := c.handle.DeriveGroupRoot(groupID)
	if err != nil {
		return nil, err
	}

	gen, err := c.mediaGeneration(groupID, leaf, trackLabel, epoch, media.GenerationOf(counter))
	if err != nil {
		return nil, err
	}

	aad := media.AAD(root, trackLabel, epoch, groupSeq, frameIdx, keyframe)
	start := time.Now()
	wire, err := media.EncryptFrame(gen, counter, plaintext, aad)
	metrics.FrameProcessingDuration.WithLabelValues("encrypt").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FramesDropped.WithLabelValues("aead_failure").Inc()
		return nil, identity.NewError(identity.KindFatalCrypto, "encrypt_audio_frame failed", err)
	}
	metrics.FramesEncrypted.WithLabelValues(trackLabel).Inc()
	return wire, nil
}

// DecryptAudioFrame implements decrypt_audio_frame for a frame received
// from senderPubKeyHex on trackLabel. It tries the current epoch first,
// then falls back one epoch to absorb frames sent just before a rotation
// (spec §8 scenario 6 "cross-epoch audio"). The prior-epoch key is only
// correct while it is still in media.Cache (~10s after this receiver
// derived it): on a cache miss it is re-derived from the current epoch's
// exporter, which does not match the sender's key, so the frame fails.
// A frame that fails under both epochs is a fatal AEAD failure, not a
// retry candidate.
func (c *Controller) DecryptAudioFrame(senderPubKeyHex, trackLabel string, wire []byte, groupSeq, frameIdx uint64, keyframe bool) ([]byte, error) {
	groupID := c.sess.GroupID()
	if len(wire) < 4 {
		return nil, identity.NewError(identity.KindFatalCrypto, "decrypt_audio_frame: frame too short", nil)
	}
	counter := binary.BigEndian.Uint32(wire[:4])
	genByte := media.GenerationOf(counter)

	currentEpoch, err := c.handle.CurrentEpoch(groupID)
	if err != nil {
		return nil, err
	}
	senderLeaf, err := hex.DecodeString(senderPubKeyHex)
	if err != nil {
		return nil, identity.NewError(identity.KindFatalConfig, "invalid sender pubkey", err)
	}
	root, err := c.handle.DeriveGroupRoot(groupID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.FrameProcessingDuration.WithLabelValues("decrypt").Observe(time.Since(start).Seconds())
	}()

	for _, epoch := range candidateEpochs(currentEpoch) {
		gen, err := c.mediaGeneration(groupID, senderLeaf, trackLabel, epoch, genByte)
		if err != nil {
			continue
		}
		aad := media.AAD(root, trackLabel, epoch, groupSeq, frameIdx, keyframe)
		_, plaintext, err := media.DecryptFrame(gen, wire, aad)
		if err == nil {
			metrics.FramesDecrypted.WithLabelValues(trackLabel).Inc()
			return plaintext, nil
		}
	}

	metrics.FramesDropped.WithLabelValues("aead_failure").Inc()
	return nil, identity.NewError(identity.KindFatalCrypto, "decrypt_audio_frame failed", nil)
}

// candidateEpochs returns the epochs worth trying a decrypt against,
// newest first: the current epoch, then the one before it (if any).
func candidateEpochs(current uint64) []uint64 {
	if current == 0 {
		return []uint64{current}
	}
	return []uint64{current, current - 1}
}

func (c *Controller) mediaGeneration(groupID string, senderLeaf []byte, trackLabel string, epoch uint64, genByte byte) (media.Generation, error) {
	if gen, ok := c.mediaCache.Get(senderLeaf, trackLabel, epoch, genByte); ok {
		return gen, nil
	}
	base, err := media.BaseKey(c.handle, groupID, senderLeaf, trackLabel, epoch)
	if err != nil {
		return media.Generation{}, err
	}
	gen, err := media.DeriveGeneration(base, genByte)
	if err != nil {
		return media.Generation{}, err
	}
	c.mediaCache.Put(senderLeaf, trackLabel, epoch, genByte, gen)
	return gen, nil
}
