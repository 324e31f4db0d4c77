package identity

import "time"

// Outcome is the sum type returned by Handle.IngestWrapper, per spec §4.1.
// Exactly one of the typed accessors is meaningful; callers switch on Kind.
type Outcome struct {
	kind outcomeKind

	application *Application
	commit      *Commit
	welcome     *Welcome
	unprocessable *Unprocessable
}

type outcomeKind int

const (
	OutcomeApplication outcomeKind = iota
	OutcomeCommit
	OutcomeProposal
	OutcomeWelcome
	OutcomeUnprocessable
)

// Kind reports which variant this Outcome holds.
func (o Outcome) Kind() outcomeKind { return o.kind }

// Application holds a decrypted user payload.
type Application struct {
	Author    string
	Payload   []byte
	CreatedAt time.Time
}

// Commit reports the epoch reached after a merged commit.
type Commit struct {
	EpochAfter uint64
}

// Welcome reports a (possibly late, already-known) group join.
type Welcome struct {
	GroupID string
}

// Unprocessable reports an ingest failure, classified transient or not.
type Unprocessable struct {
	Reason    string
	Transient bool
}

func (o Outcome) Application() (*Application, bool)     { return o.application, o.kind == OutcomeApplication }
func (o Outcome) Commit() (*Commit, bool)                { return o.commit, o.kind == OutcomeCommit }
func (o Outcome) Welcome() (*Welcome, bool)              { return o.welcome, o.kind == OutcomeWelcome }
func (o Outcome) Unprocessable() (*Unprocessable, bool) {
	return o.unprocessable, o.kind == OutcomeUnprocessable
}
func (o Outcome) IsProposal() bool { return o.kind == OutcomeProposal }

func applicationOutcome(author string, payload []byte, createdAt time.Time) Outcome {
	return Outcome{kind: OutcomeApplication, application: &Application{Author: author, Payload: payload, CreatedAt: createdAt}}
}

func commitOutcome(epochAfter uint64) Outcome {
	return Outcome{kind: OutcomeCommit, commit: &Commit{EpochAfter: epochAfter}}
}

func proposalOutcome() Outcome { return Outcome{kind: OutcomeProposal} }

func welcomeOutcome(groupID string) Outcome {
	return Outcome{kind: OutcomeWelcome, welcome: &Welcome{GroupID: groupID}}
}

func unprocessableOutcome(reason string, transient bool) Outcome {
	return Outcome{kind: OutcomeUnprocessable, unprocessable: &Unprocessable{Reason: reason, Transient: transient}}
}
