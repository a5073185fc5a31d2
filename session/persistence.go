package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wealthwise/sessionguard/authn"
	sgcrypto "github.com/wealthwise/sessionguard/crypto"
	"github.com/wealthwise/sessionguard/internal/aad"
	"github.com/wealthwise/sessionguard/internal/util"
	"github.com/wealthwise/sessionguard/keystore"
	"github.com/wealthwise/sessionguard/storage"
	"github.com/wealthwise/sessionguard/token"
)

// Well-known keystore identifiers for the persistence keys. The token and
// identity records are encrypted under separate keys.
const (
	DefaultPersistTokenKeyID    = "sessionguard.persist.token.v1"
	DefaultPersistIdentityKeyID = "sessionguard.persist.identity.v1"

	persistRecordID   = "current"
	persistAADVersion = 1
)

// Persistence stores the current session token and identity as two
// independently encrypted records. It performs no validation of its own;
// callers hand loaded records to the token codec.
type Persistence struct {
	repo          storage.Repository
	keys          keystore.Store
	enc           sgcrypto.Service
	namespace     string
	tokenKeyID    string
	identityKeyID string
	policy        keystore.Policy
}

// PersistenceOption configures a Persistence.
type PersistenceOption func(*Persistence)

// WithPersistKeyIDs overrides the keystore identifiers of the two
// persistence keys.
func WithPersistKeyIDs(tokenKeyID, identityKeyID string) PersistenceOption {
	return func(p *Persistence) {
		p.tokenKeyID = tokenKeyID
		p.identityKeyID = identityKeyID
	}
}

// WithPersistKeyPolicy sets the access policy applied when the persistence
// keys are first generated.
func WithPersistKeyPolicy(policy keystore.Policy) PersistenceOption {
	return func(p *Persistence) {
		p.policy = policy
	}
}

// NewPersistence creates the session persistence layer.
func NewPersistence(repo storage.Repository, keys keystore.Store, enc sgcrypto.Service, namespace string, opts ...PersistenceOption) *Persistence {
	p := &Persistence{
		repo:          repo,
		keys:          keys,
		enc:           enc,
		namespace:     namespace,
		tokenKeyID:    DefaultPersistTokenKeyID,
		identityKeyID: DefaultPersistIdentityKeyID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type persistedIdentity struct {
	ID              string          `json:"id"`
	Proof           authn.Method    `json:"proof"`
	Assurance       authn.Assurance `json:"assurance"`
	AuthenticatedAt time.Time       `json:"authenticated_at"`
	Roles           []string        `json:"roles,omitempty"`
}

// Save encrypts and writes the token and identity records.
func (p *Persistence) Save(tok *token.Token, ident *Identity) error {
	if err := p.saveRecord(storage.RecordSessionToken, p.tokenKeyID, tok); err != nil {
		return fmt.Errorf("saving session token: %w", err)
	}

	pi := persistedIdentity{
		ID:              ident.ID,
		Proof:           ident.Proof,
		Assurance:       ident.Assurance,
		AuthenticatedAt: ident.AuthenticatedAt,
	}
	for r := range ident.Roles {
		pi.Roles = append(pi.Roles, string(r))
	}
	if err := p.saveRecord(storage.RecordIdentity, p.identityKeyID, pi); err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

func (p *Persistence) saveRecord(recordType, keyID string, v any) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return err
	}
	defer util.WipeBytes(plain)

	handle, err := keystore.RetrieveOrGenerate(p.keys, keyID, p.policy)
	if err != nil {
		return fmt.Errorf("resolving key %s: %w", keyID, err)
	}

	env, err := p.enc.Encrypt(plain, aad.Record(p.namespace, recordType, persistRecordID, persistAADVersion), handle)
	if err != nil {
		return err
	}
	return p.repo.Put(p.namespace, recordType, persistRecordID, env)
}

// Load reads and decrypts both records. It returns ErrNoSession when
// nothing is persisted; the identity's Token field is left nil for the
// caller to install after validation.
func (p *Persistence) Load() (*token.Token, *Identity, error) {
	var tok token.Token
	if err := p.loadRecord(storage.RecordSessionToken, p.tokenKeyID, &tok); err != nil {
		return nil, nil, fmt.Errorf("loading session token: %w", err)
	}

	var pi persistedIdentity
	if err := p.loadRecord(storage.RecordIdentity, p.identityKeyID, &pi); err != nil {
		return nil, nil, fmt.Errorf("loading identity: %w", err)
	}

	ident := &Identity{
		ID:              pi.ID,
		Proof:           pi.Proof,
		Assurance:       pi.Assurance,
		AuthenticatedAt: pi.AuthenticatedAt,
	}
	if len(pi.Roles) > 0 {
		ident.Roles = make(map[Role]struct{}, len(pi.Roles))
		for _, r := range pi.Roles {
			ident.Roles[Role(r)] = struct{}{}
		}
	}
	return &tok, ident, nil
}

func (p *Persistence) loadRecord(recordType, keyID string, v any) error {
	env, err := p.repo.Get(p.namespace, recordType, persistRecordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoSession
		}
		return err
	}

	handle, err := p.keys.Retrieve(keyID)
	if err != nil {
		return fmt.Errorf("resolving key %s: %w", keyID, err)
	}

	plain, err := p.enc.Decrypt(env, aad.Record(p.namespace, recordType, persistRecordID, persistAADVersion), handle)
	if err != nil {
		return err
	}
	defer util.WipeBytes(plain)

	return json.Unmarshal(plain, v)
}

// Clear deletes both stored records. Missing records are not an error, so
// Clear is safe to call unconditionally during invalidation.
func (p *Persistence) Clear() error {
	var errs []error
	for _, recordType := range []string{storage.RecordSessionToken, storage.RecordIdentity} {
		if err := p.repo.Delete(p.namespace, recordType, persistRecordID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("deleting %s: %w", recordType, err))
		}
	}
	return errors.Join(errs...)
}
