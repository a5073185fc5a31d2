package session

import (
	"time"

	"github.com/wealthwise/sessionguard/authn"
	"github.com/wealthwise/sessionguard/internal/util"
	"github.com/wealthwise/sessionguard/token"
)

// Role is an authorization tag carried on the authenticated identity.
// The session core records roles but makes no permission decisions.
type Role string

// Identity is the in-memory record of who is logged in. The Machine owns
// at most one Identity at a time and wipes it on invalidation.
type Identity struct {
	ID              string
	Proof           authn.Method
	Assurance       authn.Assurance
	Token           *token.Token
	AuthenticatedAt time.Time
	Roles           map[Role]struct{}
}

// HasRole reports whether the identity carries the given role tag.
func (i *Identity) HasRole(r Role) bool {
	_, ok := i.Roles[r]
	return ok
}

// wipe best-effort destroys the identity's session material in place.
func (i *Identity) wipe() {
	if i.Token != nil && i.Token.EncryptedPayload != nil {
		util.WipeBytes(i.Token.EncryptedPayload.Nonce)
		util.WipeBytes(i.Token.EncryptedPayload.Ciphertext)
	}
	i.Token = nil
	i.ID = ""
	i.Roles = nil
}
