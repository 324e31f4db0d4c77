package memory

import (
	"testing"

	"github.com/marmot-chat/marmot/identity/mls"
)

func TestProposeAddReturnsWelcomeCandidateCanAccept(t *testing.T) {
	founderLib := New()
	founder := mls.KeyPackage{PubKey: []byte("founder")}
	groupID := []byte("group-invite-test")

	if _, err := founderLib.CreateGroup(groupID, founder, nil, nil); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	candidate := mls.KeyPackage{PubKey: []byte("charlie"), InitKey: []byte("charlie-init")}
	commitWrapper, welcome, err := founderLib.ProposeAdd(groupID, candidate, false)
	if err != nil {
		t.Fatalf("ProposeAdd: %v", err)
	}
	if commitWrapper == nil {
		t.Fatal("expected non-nil commit wrapper")
	}
	if welcome.Epoch != 1 {
		t.Fatalf("expected welcome epoch 1, got %d", welcome.Epoch)
	}

	// Candidate joins from the welcome without ever having seen epoch 0.
	candidateLib := New()
	joinedGroupID, err := candidateLib.AcceptWelcome(welcome, candidate)
	if err != nil {
		t.Fatalf("AcceptWelcome: %v", err)
	}
	if string(joinedGroupID) != string(groupID) {
		t.Fatalf("joined group id mismatch: got %x want %x", joinedGroupID, groupID)
	}

	epoch, err := candidateLib.Epoch(groupID)
	if err != nil {
		t.Fatalf("Epoch: %v", err)
	}
	if epoch != 1 {
		t.Fatalf("expected candidate to join at epoch 1, got %d", epoch)
	}

	// The founder must merge the same commit to reach the same epoch 1
	// secret the welcome encoded, so the two can exchange application
	// traffic immediately after.
	if _, err := founderLib.MergePendingCommit(groupID); err != nil {
		t.Fatalf("MergePendingCommit: %v", err)
	}

	wrapper, err := founderLib.Encrypt(groupID, []byte("hello charlie"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	result, err := candidateLib.ProcessMessage(wrapper)
	if err != nil {
		t.Fatalf("candidate ProcessMessage: %v", err)
	}
	if result.Kind != mls.IngestApplication {
		t.Fatalf("expected application ingest, got kind %d", result.Kind)
	}
	if string(result.Payload) != "hello charlie" {
		t.Fatalf("payload mismatch: got %q", result.Payload)
	}
}

func TestProposeAddRejectsWhenCommitAlreadyPending(t *testing.T) {
	lib := New()
	groupID := []byte("group-pending-test")
	if _, err := lib.CreateGroup(groupID, mls.KeyPackage{PubKey: []byte("founder")}, nil, nil); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := lib.SelfUpdate(groupID); err != nil {
		t.Fatalf("SelfUpdate: %v", err)
	}

	if _, _, err := lib.ProposeAdd(groupID, mls.KeyPackage{PubKey: []byte("dave")}, false); err == nil {
		t.Fatal("expected ProposeAdd to fail while a commit is already pending")
	}
}
