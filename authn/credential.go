package authn

import (
	"context"
	"fmt"

	"github.com/wealthwise/sessionguard/internal/util"
)

const credentialSaltLen = 16

// CredentialAuthenticator verifies a passphrase against an argon2id-derived
// verification key. Passphrases are NFKD-normalized before derivation so
// the same passphrase typed on different platforms compares equal.
type CredentialAuthenticator struct {
	identityID string
	salt       []byte
	params     util.Argon2idParams
	verifier   []byte
}

var _ Authenticator = (*CredentialAuthenticator)(nil)

// NewCredentialAuthenticator enrolls a passphrase for the given identity.
func NewCredentialAuthenticator(identityID, passphrase string) (*CredentialAuthenticator, error) {
	salt, err := util.RandomBytes(credentialSaltLen)
	if err != nil {
		return nil, fmt.Errorf("generating credential salt: %w", err)
	}
	params := util.DefaultArgon2idParams()
	verifier, err := util.DeriveArgon2idKey(util.Normalize(passphrase), salt, params)
	if err != nil {
		return nil, fmt.Errorf("deriving credential verifier: %w", err)
	}
	return &CredentialAuthenticator{
		identityID: identityID,
		salt:       salt,
		params:     params,
		verifier:   verifier,
	}, nil
}

func (c *CredentialAuthenticator) ProveIdentity(ctx context.Context, method Method, creds *Credentials) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCeremonyCancelled, err)
	}
	if method != MethodCredential {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if creds == nil || creds.Passphrase == "" {
		return Result{}, ErrInvalidCredentials
	}

	ok, err := util.CompareArgon2idKey(util.Normalize(creds.Passphrase), c.salt, c.params, c.verifier)
	if err != nil {
		return Result{}, fmt.Errorf("comparing credential: %w", err)
	}
	if !ok {
		return Result{}, ErrInvalidCredentials
	}

	return Result{
		Success:    true,
		IdentityID: c.identityID,
		Proof:      MethodCredential,
		Assurance:  AssuranceStandard,
		Timestamp:  timeNow(),
	}, nil
}
