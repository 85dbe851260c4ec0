package canlock

import "testing"

// TestCancelLockRFC8315Vector checks the admin-mode Cancel-Lock against
// RFC 8315's own worked example (scenario 5 in its appendix): message-id
// "<12345@mid.example>" under secret "ExampleSecret" with no agent
// identity folded in.
func TestCancelLockRFC8315Vector(t *testing.T) {
	k := New([]string{"ExampleSecret"}, nil)
	got := k.CancelLockAdmin("<12345@mid.example>")
	want := "sha1:JD+QmQh5LH6lLLToKLcDl+Aemg0=\n\tsha256:s/pmK/3grrz++29ce2/mQydzJuc7iqHn1nqcJiQTPMc="
	if got != want {
		t.Fatalf("CancelLockAdmin = %q, want %q", got, want)
	}
}

func TestCancelLockAndCancelKeyDiffer(t *testing.T) {
	k := New(nil, []string{"sekrit"})
	msgID := "<a@b>"
	identity := "poster@example.com"
	lock := k.CancelLockUser(msgID, identity)
	key := k.CancelKeyUser(msgID, identity)
	if lock == "" || key == "" {
		t.Fatal("expected non-empty lock and key")
	}
	if lock == key {
		t.Fatal("CancelLock and CancelKey should be distinct digests")
	}
}

func TestVerifyAcceptsMatchingKeyerTokens(t *testing.T) {
	k := New(nil, []string{"sekrit"})
	msgID := "<a@b>"
	identity := "poster@example.com"
	lock := k.CancelLockUser(msgID, identity)
	key := k.CancelKeyUser(msgID, identity)
	if !Verify(lock, key) {
		t.Fatal("expected Verify to accept a key matching the lock it was derived from")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	k1 := New(nil, []string{"sekrit"})
	k2 := New(nil, []string{"other"})
	msgID := "<a@b>"
	identity := "poster@example.com"
	lock := k1.CancelLockUser(msgID, identity)
	otherKey := k2.CancelKeyUser(msgID, identity)
	if Verify(lock, otherKey) {
		t.Fatal("expected Verify to reject a key computed under a different secret")
	}
}

func TestVerifyRejectsEmptyKey(t *testing.T) {
	k := New(nil, []string{"sekrit"})
	lock := k.CancelLockUser("<a@b>", "poster@example.com")
	if Verify(lock, "") {
		t.Fatal("expected Verify to reject an empty presented key")
	}
}

func TestEmptySecretsProduceEmptyHeader(t *testing.T) {
	k := New(nil, nil)
	if got := k.CancelLockUser("<a@b>", "poster@example.com"); got != "" {
		t.Fatalf("expected empty Cancel-Lock for an empty secret set, got %q", got)
	}
	if got := k.CancelKeyUser("<a@b>", "poster@example.com"); got != "" {
		t.Fatalf("expected empty Cancel-Key for an empty secret set, got %q", got)
	}
	if got := k.CancelLockAdmin("<a@b>"); got != "" {
		t.Fatalf("expected empty admin Cancel-Lock for an empty secret set, got %q", got)
	}
}

func TestVerifyMatchesAcrossMultipleSecrets(t *testing.T) {
	k := New(nil, []string{"first", "second"})
	lock := k.CancelLockUser("<a@b>", "poster@example.com")
	single := New(nil, []string{"second"})
	key := single.CancelKeyUser("<a@b>", "poster@example.com")
	if !Verify(lock, key) {
		t.Fatal("expected Verify to accept a key matching any secret in the fold")
	}
}

func TestAdminAndUserSecretsAreIndependent(t *testing.T) {
	k := New([]string{"adminsekrit"}, []string{"usersekrit"})
	msgID := "<a@b>"
	adminKey := k.CancelKeyAdmin(msgID)
	userKey := k.CancelKeyUser(msgID, "poster@example.com")
	if Verify(k.CancelLockAdmin(msgID), userKey) {
		t.Fatal("a user-mode key must not verify against the admin-mode lock")
	}
	if Verify(k.CancelLockUser(msgID, "poster@example.com"), adminKey) {
		t.Fatal("an admin-mode key must not verify against the user-mode lock")
	}
}
