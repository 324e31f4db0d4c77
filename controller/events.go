package controller

import (
	"time"

	"github.com/marmot-chat/marmot/identity"
)

// Event is the sum type emitted to the host UI (spec §4.4). Exactly one
// typed accessor is meaningful per event; callers switch on Kind.
// Grounded on identity.Outcome's private-discriminant-plus-typed-accessors
// shape, generalized from five ingest variants to the controller's
// eleven host-facing ones.
type Event struct {
	kind eventKind

	status          *string
	ready           *bool
	message         *Message
	commit          *Commit
	roster          *Roster
	memberJoined    *Member
	memberUpdated   *Member
	memberLeft      *string
	inviteGenerated *Invite
	err             *ErrorEvent
	handshake       *Handshake
}

type eventKind int

const (
	EventStatus eventKind = iota
	EventReady
	EventMessage
	EventCommit
	EventRoster
	EventMemberJoined
	EventMemberUpdated
	EventMemberLeft
	EventInviteGenerated
	EventError
	EventHandshake
)

// Kind reports which variant this Event holds.
func (e Event) Kind() eventKind { return e.kind }

// Member mirrors identity.Member's roster shape for the host surface.
type Member struct {
	PubKey  string
	IsAdmin bool
}

// Message is a decrypted application payload (spec §4.4 "Message(author,content,ts,local)").
type Message struct {
	Author    string
	Content   []byte
	CreatedAt time.Time
	Local     bool
}

// Commit reports the running count of commits merged this session.
type Commit struct {
	Total int
}

// Roster is a full snapshot of a group's membership.
type Roster struct {
	Members []Member
}

// Invite reports a locally-generated invite's target.
type Invite struct {
	PubKey  string
	IsAdmin bool
}

// ErrorEvent is the host-facing shape of an engine error (spec §7
// "the host sees an Error event carrying {message, fatal, recovery}").
type ErrorEvent struct {
	Message  string
	Fatal    bool
	Recovery identity.Recovery
}

// Handshake reports bootstrap phase transitions for host-side progress UI.
type Handshake struct {
	Phase string
}

func statusEvent(text string) Event       { return Event{kind: EventStatus, status: &text} }
func readyEvent(ready bool) Event         { return Event{kind: EventReady, ready: &ready} }
func messageEvent(m Message) Event        { return Event{kind: EventMessage, message: &m} }
func commitEvent(total int) Event         { return Event{kind: EventCommit, commit: &Commit{Total: total}} }
func rosterEvent(members []Member) Event  { return Event{kind: EventRoster, roster: &Roster{Members: members}} }
func memberJoinedEvent(m Member) Event    { return Event{kind: EventMemberJoined, memberJoined: &m} }
func memberUpdatedEvent(m Member) Event   { return Event{kind: EventMemberUpdated, memberUpdated: &m} }
func memberLeftEvent(pubKey string) Event { return Event{kind: EventMemberLeft, memberLeft: &pubKey} }
func inviteGeneratedEvent(pubKey string, isAdmin bool) Event {
	return Event{kind: EventInviteGenerated, inviteGenerated: &Invite{PubKey: pubKey, IsAdmin: isAdmin}}
}
func errorEvent(message string, fatal bool, recovery identity.Recovery) Event {
	return Event{kind: EventError, err: &ErrorEvent{Message: message, Fatal: fatal, Recovery: recovery}}
}
func errorEventFrom(err *identity.Error) Event {
	return errorEvent(err.Message, err.Fatal(), err.Recovery)
}
func handshakeEvent(phase string) Event { return Event{kind: EventHandshake, handshake: &Handshake{Phase: phase}} }

func (e Event) Status() (string, bool) { return derefOr(e.status, ""), e.kind == EventStatus }
func (e Event) Ready() (bool, bool)    { return derefOr(e.ready, false), e.kind == EventReady }
func (e Event) Message() (Message, bool) {
	if e.message == nil {
		return Message{}, false
	}
	return *e.message, e.kind == EventMessage
}
func (e Event) Commit() (Commit, bool) {
	if e.commit == nil {
		return Commit{}, false
	}
	return *e.commit, e.kind == EventCommit
}
func (e Event) Roster() (Roster, bool) {
	if e.roster == nil {
		return Roster{}, false
	}
	return *e.roster, e.kind == EventRoster
}
func (e Event) MemberJoined() (Member, bool) {
	if e.memberJoined == nil {
		return Member{}, false
	}
	return *e.memberJoined, e.kind == EventMemberJoined
}
func (e Event) MemberUpdated() (Member, bool) {
	if e.memberUpdated == nil {
		return Member{}, false
	}
	return *e.memberUpdated, e.kind == EventMemberUpdated
}
func (e Event) MemberLeft() (string, bool) {
	return derefOr(e.memberLeft, ""), e.kind == EventMemberLeft
}
func (e Event) InviteGenerated() (Invite, bool) {
	if e.inviteGenerated == nil {
		return Invite{}, false
	}
	return *e.inviteGenerated, e.kind == EventInviteGenerated
}
func (e Event) Error() (ErrorEvent, bool) {
	if e.err == nil {
		return ErrorEvent{}, false
	}
	return *e.err, e.kind == EventError
}
func (e Event) Handshake() (Handshake, bool) {
	if e.handshake == nil {
		return Handshake{}, false
	}
	return *e.handshake, e.kind == EventHandshake
}

func derefOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
