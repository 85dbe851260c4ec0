// Package canlock implements Cancel-Lock and Cancel-Key header
// generation and verification per RFC 8315, spec §4.C8. Grounded on
// control/gencancel.c for the fold/admin-vs-user secret handling and on
// the teacher's msg.go for the logger-carrying option-struct idiom used
// elsewhere in this module.
package canlock

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"strings"
)

// Scheme names the hash algorithm a lock/key pair is computed with.
type Scheme string

const (
	SHA1   Scheme = "sha1"
	SHA256 Scheme = "sha256"
)

func newHMAC(s Scheme, key []byte) hash.Hash {
	switch s {
	case SHA256:
		return hmac.New(sha256.New, key)
	default:
		return hmac.New(sha1.New, key)
	}
}

// hashOnce applies the unkeyed hash of s to data, for the second,
// non-HMAC pass RFC 8315 §3 requires when deriving a Cancel-Lock from
// its Cancel-Key.
func hashOnce(s Scheme, data []byte) []byte {
	if s == SHA256 {
		sum := sha256.Sum256(data)
		return sum[:]
	}
	sum := sha1.Sum(data)
	return sum[:]
}

func schemeLabel(s Scheme) string {
	if s == SHA256 {
		return "sha256"
	}
	return "sha1"
}

// Keyer computes Cancel-Lock/Cancel-Key digests for a fixed pair of
// admin and user secret sets, per spec §4.C8: admin mode signs the
// message-id alone (HMAC(K, M)), user mode folds the poster's identity
// in ahead of it (HMAC(K, U||M)). Keeping the two secret sets separate
// mirrors inn-secrets.conf's "cancels { canlockadmin: [...];
// canlockuser: [...]; }" structure, which this type is built from.
type Keyer struct {
	adminSecrets []string
	userSecrets  []string
	schemes      []Scheme
}

// New creates a Keyer over adminSecrets and userSecrets, computing both
// SHA-1 and SHA-256 digests for each, per RFC 8315's recommendation to
// publish multiple schemes so verifiers with different hash support
// can still match.
func New(adminSecrets, userSecrets []string) *Keyer {
	return &Keyer{adminSecrets: adminSecrets, userSecrets: userSecrets, schemes: []Scheme{SHA1, SHA256}}
}

// keyToken computes RFC 8315's Cancel-Key digest: base64(HMAC_H(secret,
// message)).
func keyToken(scheme Scheme, secret, message string) string {
	h := newHMAC(scheme, []byte(secret))
	_, _ = h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// lockToken computes RFC 8315's Cancel-Lock digest: base64(H(b64(HMAC_H(
// secret, message)))) — the unkeyed hash applied a second time over the
// base64 text of the Cancel-Key, not a second HMAC over a tagged
// message. This is the step canlock implementations most often get
// wrong; see the worked vectors in canlock_test.go.
func lockToken(scheme Scheme, secret, message string) string {
	key := keyToken(scheme, secret, message)
	return base64.StdEncoding.EncodeToString(hashOnce(scheme, []byte(key)))
}

func foldSecrets(secrets []string, schemes []Scheme, message string, compute func(Scheme, string, string) string) string {
	if len(secrets) == 0 {
		return ""
	}
	var parts []string
	for _, secret := range secrets {
		for _, scheme := range schemes {
			parts = append(parts, schemeLabel(scheme)+":"+compute(scheme, secret, message))
		}
	}
	return strings.Join(parts, "\n\t")
}

// CancelKeyAdmin computes the admin-mode Cancel-Key for msgID: an
// empty secret set yields an empty string (spec: "generation against
// an empty secrets vector produces an empty header value, not an
// error").
func (k *Keyer) CancelKeyAdmin(msgID string) string {
	return foldSecrets(k.adminSecrets, k.schemes, msgID, keyToken)
}

// CancelLockAdmin computes the admin-mode Cancel-Lock for msgID, with
// no agent identity folded in, per spec §4.C8's "given only the
// message-ID" admin contract.
func (k *Keyer) CancelLockAdmin(msgID string) string {
	return foldSecrets(k.adminSecrets, k.schemes, msgID, lockToken)
}

// CancelKeyUser computes the user-mode Cancel-Key for msgID, with
// agentIdentity (the poster's From address or equivalent) prepended to
// the signed message per RFC 8315 §3's U||M construction.
func (k *Keyer) CancelKeyUser(msgID, agentIdentity string) string {
	return foldSecrets(k.userSecrets, k.schemes, agentIdentity+msgID, keyToken)
}

// CancelLockUser computes the user-mode Cancel-Lock for msgID and
// agentIdentity.
func (k *Keyer) CancelLockUser(msgID, agentIdentity string) string {
	return foldSecrets(k.userSecrets, k.schemes, agentIdentity+msgID, lockToken)
}

// Verify reports whether any token in presentedKey, hashed once more
// per scheme, reproduces a token in storedLock (RFC 8315 §5's
// verification step: the verifier never needs the shared secret, only
// the stored lock and the presented key). An empty presentedKey
// against any storedLock always fails.
func Verify(storedLock, presentedKey string) bool {
	if presentedKey == "" {
		return false
	}
	lockTokens := splitFold(storedLock)
	keyTokens := splitFold(presentedKey)
	if len(lockTokens) == 0 || len(keyTokens) == 0 {
		return false
	}
	for _, kt := range keyTokens {
		scheme, b64, ok := splitScheme(kt)
		if !ok {
			continue
		}
		derived := schemeLabel(scheme) + ":" + base64.StdEncoding.EncodeToString(hashOnce(scheme, []byte(b64)))
		for _, lt := range lockTokens {
			if hmac.Equal([]byte(derived), []byte(lt)) {
				return true
			}
		}
	}
	return false
}

func splitScheme(tok string) (Scheme, string, bool) {
	i := strings.IndexByte(tok, ':')
	if i < 0 {
		return "", "", false
	}
	switch tok[:i] {
	case "sha256":
		return SHA256, tok[i+1:], true
	case "sha1":
		return SHA1, tok[i+1:], true
	default:
		return "", "", false
	}
}

func splitFold(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	raw := strings.Split(header, "\n\t")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
