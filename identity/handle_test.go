package identity

import (
	"testing"
)

func testSecret(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

func TestCreateGroupExtraAdminsPromotesInvitee(t *testing.T) {
	founder, err := NewHandle(testSecret(0x01), nil)
	if err != nil {
		t.Fatalf("NewHandle founder: %v", err)
	}
	admin, err := NewHandle(testSecret(0x02), nil)
	if err != nil {
		t.Fatalf("NewHandle admin: %v", err)
	}
	plain, err := NewHandle(testSecret(0x03), nil)
	if err != nil {
		t.Fatalf("NewHandle plain: %v", err)
	}

	adminKP, err := admin.CreateKeyPackage("")
	if err != nil {
		t.Fatalf("admin CreateKeyPackage: %v", err)
	}
	plainKP, err := plain.CreateKeyPackage("")
	if err != nil {
		t.Fatalf("plain CreateKeyPackage: %v", err)
	}

	groupID, _, err := founder.CreateGroup(
		GroupConfig{ExtraAdmins: [][]byte{adminKP.PubKey}},
		[]KeyPackage{adminKP, plainKP},
	)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	members, err := founder.ListMembers(groupID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}

	adminHex := admin.PubKeyHex()
	plainHex := plain.PubKeyHex()
	founderHex := founder.PubKeyHex()

	var sawFounderAdmin, sawExtraAdmin, sawPlainNonAdmin bool
	for _, m := range members {
		switch m.PubKey {
		case founderHex:
			sawFounderAdmin = m.IsAdmin
		case adminHex:
			sawExtraAdmin = m.IsAdmin
		case plainHex:
			sawPlainNonAdmin = !m.IsAdmin
		}
	}

	if !sawFounderAdmin {
		t.Error("expected founder to remain admin")
	}
	if !sawExtraAdmin {
		t.Error("expected invitee listed in ExtraAdmins to be promoted to admin")
	}
	if !sawPlainNonAdmin {
		t.Error("expected invitee not listed in ExtraAdmins to stay non-admin")
	}
}
