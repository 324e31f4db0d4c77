package controller

// opKind discriminates the operations named in spec §4.4. All component
// callbacks (relay events, transport frames, handshake completion) enqueue
// one of these rather than mutating controller state inline, which is
// what keeps the engine single-threaded (spec §9 "callback-based relay
// library -> operation queue").
type opKind int

const (
	opBootstrap opKind = iota
	opConnectTransport
	opIngestFrame
	opSendMessage
	opInviteMember
	opRemoveMember
	opRotateEpoch
	opShutdown

	// opBootstrapDone is an internal continuation: bootstrap/invite
	// handshakes run as blocking I/O on background goroutines, and Go has
	// no lightweight coroutine suspension point to return into, so their
	// results are delivered back onto the same queue as ordinary
	// operations instead, preserving "no cross-thread shared mutable
	// state" (spec §5).
	opBootstrapDone
)

// operation is the queue element the engine loop drains one at a time.
type operation struct {
	kind opKind

	frame []byte // opIngestFrame

	text string // opSendMessage

	pubKey  string // opInviteMember / opRemoveMember
	isAdmin bool    // opInviteMember

	bootstrapResult *bootstrapOutcome // opBootstrapDone
}

// bootstrapOutcome carries RunCreator/RunInvitee/RunInviteAdmin's result
// back onto the operation queue once the handshake goroutine completes.
// commitWrapper is set only for a RunInviteAdmin completion (a mid-group
// invite produces a commit that still needs local merge + broadcast,
// unlike initial bootstrap which only needs the group id recorded).
type bootstrapOutcome struct {
	groupID       string
	commitWrapper []byte
	err           error
}
