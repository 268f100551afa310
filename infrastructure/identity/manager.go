package identity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"esence/application/ports"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/pkg/utils"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// Options configure the Manager
type Options struct {
	KeysDir       string
	NodeName      string
	Host          string
	MaxMessageAge time.Duration
	Clock         utils.Clock
}

// Manager signs for this node and verifies peers. The identity record is
// immutable apart from its domain.
type Manager struct {
	keys     *KeyPair
	store    ports.IdentityStore
	resolver ports.Resolver
	clock    utils.Clock
	maxAge   time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	identity entities.Identity
}

// LoadOrCreate boots the identity: existing keys are loaded (a corrupt file
// is fatal), otherwise a key pair is generated once and persisted.
func LoadOrCreate(ctx context.Context, opts Options, store ports.IdentityStore, resolver ports.Resolver, logger *zap.Logger) (*Manager, error) {
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("identity")

	var keys *KeyPair
	var err error
	fresh := !KeysExist(opts.KeysDir)
	if fresh {
		if keys, err = GenerateKeyPair(); err != nil {
			return nil, err
		}
		if err := SaveKeyPair(opts.KeysDir, keys); err != nil {
			return nil, err
		}
		logger.Info("generated node key pair", zap.String("keys_dir", opts.KeysDir))
	} else if keys, err = LoadKeyPair(opts.KeysDir); err != nil {
		return nil, err
	}

	m := &Manager{
		keys:     keys,
		store:    store,
		resolver: resolver,
		clock:    opts.Clock,
		maxAge:   opts.MaxMessageAge,
		logger:   logger,
	}

	id, err := store.LoadIdentity(ctx)
	switch {
	case err == nil && !fresh:
		if id.PublicKey != keys.PublicKeyString() {
			return nil, fmt.Errorf("%w: identity.json does not match keys/%s", ErrCorruptKey, privateKeyFile)
		}
		m.identity = id
		return m, nil
	case err != nil && !errors.Is(err, ports.ErrNotFound):
		return nil, fmt.Errorf("load identity: %w", err)
	}

	did, err := valueobjects.NewDID(opts.Host, opts.NodeName)
	if err != nil {
		return nil, err
	}
	m.identity = entities.Identity{
		DID:       did,
		Name:      opts.NodeName,
		Domain:    valueobjects.EncodeDomain(opts.Host),
		PublicKey: keys.PublicKeyString(),
		CreatedAt: opts.Clock.Now(),
	}
	if err := store.SaveIdentity(ctx, m.identity, m.Document(0, true)); err != nil {
		return nil, err
	}
	logger.Info("identity created", zap.String("did", did.String()))
	return m, nil
}

// Regenerate replaces the key pair. Peers that cached the old document
// will reject this node until their cache expires.
func Regenerate(ctx context.Context, opts Options, store ports.IdentityStore, logger *zap.Logger) (*Manager, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := SaveKeyPair(opts.KeysDir, keys); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Warn("node key pair regenerated", zap.String("keys_dir", opts.KeysDir))
	}

	id, err := store.LoadIdentity(ctx)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}
	if id.DID.IsZero() {
		if id.DID, err = valueobjects.NewDID(opts.Host, opts.NodeName); err != nil {
			return nil, err
		}
		id.Name = opts.NodeName
		id.Domain = valueobjects.EncodeDomain(opts.Host)
	}
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock{}
	}
	id.PublicKey = keys.PublicKeyString()
	id.CreatedAt = opts.Clock.Now()

	m := &Manager{keys: keys, store: store, clock: opts.Clock, maxAge: opts.MaxMessageAge, logger: zap.NewNop(), identity: id}
	if err := store.SaveIdentity(ctx, id, m.Document(0, true)); err != nil {
		return nil, err
	}
	return m, nil
}

// KeysDir returns the conventional key directory inside a store
func KeysDir(storeDir string) string {
	return filepath.Join(storeDir, "keys")
}

// Identity returns the current identity record
func (m *Manager) Identity() entities.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// DID implements ports.MessageSigner
func (m *Manager) DID() valueobjects.DID {
	return m.Identity().DID
}

// PublicKey implements ports.MessageSigner
func (m *Manager) PublicKey() string {
	return m.keys.PublicKeyString()
}

// Sign signs an arbitrary payload
func (m *Manager) Sign(payload []byte) string {
	return m.keys.Sign(payload)
}

// Verify checks signature over payload against the key published by
// claimed. Every failure, including resolution, yields false.
func (m *Manager) Verify(ctx context.Context, payload []byte, signature string, claimed valueobjects.DID) bool {
	return m.verify(ctx, payload, signature, claimed) == nil
}

func (m *Manager) verify(ctx context.Context, payload []byte, signature string, claimed valueobjects.DID) error {
	if claimed.IsZero() {
		return apperrors.NewSignatureInvalidError("", errors.New("missing claimed did"))
	}
	if signature == "" {
		return apperrors.NewSignatureInvalidError(claimed.String(), errors.New("unsigned"))
	}

	// Our own messages never need a network round trip
	if claimed.Equals(m.DID()) {
		if VerifyWithKey(m.PublicKey(), payload, signature) {
			return nil
		}
		return apperrors.NewSignatureInvalidError(claimed.String(), errors.New("signature mismatch"))
	}

	if m.resolver == nil {
		return apperrors.NewResolutionFailedError(claimed.String(), errors.New("no resolver configured"))
	}

	check := func() error {
		doc, err := m.resolver.Resolve(ctx, claimed)
		if err != nil {
			if apperrors.IsResolutionFailed(err) {
				return err
			}
			return apperrors.NewResolutionFailedError(claimed.String(), err)
		}
		if doc.ID != "" && doc.ID != claimed.String() {
			return apperrors.NewSignatureInvalidError(claimed.String(), fmt.Errorf("document id %s does not match", doc.ID))
		}
		key, err := doc.Key()
		if err != nil {
			return apperrors.NewSignatureInvalidError(claimed.String(), err)
		}
		if !VerifyWithKey(key, payload, signature) {
			return apperrors.NewSignatureInvalidError(claimed.String(), errors.New("signature mismatch"))
		}
		return nil
	}

	err := check()
	if err != nil && apperrors.IsSignatureInvalid(err) {
		// The peer may have rotated its key since we cached the document
		m.resolver.Invalidate(claimed)
		err = check()
	}
	return err
}

// SignMessage implements ports.MessageSigner. The message must come from
// this node.
func (m *Manager) SignMessage(msg entities.Message) (entities.Message, error) {
	if !msg.From.Equals(m.DID()) {
		return entities.Message{}, fmt.Errorf("cannot sign message from %s as %s", msg.From, m.DID())
	}
	canonical, err := msg.CanonicalBytes()
	if err != nil {
		return entities.Message{}, err
	}
	return msg.WithSignature(m.Sign(canonical)), nil
}

// VerifyMessage implements ports.MessageSigner. Besides the signature it
// rejects messages outside the freshness window.
func (m *Manager) VerifyMessage(ctx context.Context, msg entities.Message) error {
	if err := msg.Validate(); err != nil {
		return apperrors.NewSignatureInvalidError(msg.From.String(), err)
	}
	if m.maxAge > 0 {
		sent, _ := msg.SentAt()
		age := m.clock.Now().Sub(sent)
		if age > m.maxAge || age < -m.maxAge {
			return apperrors.NewSignatureInvalidError(msg.From.String(), fmt.Errorf("timestamp outside the %s window", m.maxAge))
		}
	}

	canonical, err := msg.CanonicalBytes()
	if err != nil {
		return apperrors.NewSignatureInvalidError(msg.From.String(), err)
	}
	return m.verify(ctx, canonical, msg.Signature, msg.From)
}

// Document renders the identity document
func (m *Manager) Document(maturity float64, humanReview bool) entities.IdentityDocument {
	id := m.Identity()
	return entities.NewIdentityDocument(id, id.DID.MessageURL(), maturity, humanReview)
}

// UpdateDomain moves the identity to a new public host. The DID changes with
// it; the key pair does not.
func (m *Manager) UpdateDomain(ctx context.Context, host string, maturity float64, humanReview bool) (bool, error) {
	m.mu.Lock()
	current := m.identity
	if current.Domain == valueobjects.EncodeDomain(host) {
		m.mu.Unlock()
		return false, nil
	}
	did, err := valueobjects.NewDID(host, current.Name)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	next := current
	next.DID = did
	next.Domain = valueobjects.EncodeDomain(host)
	m.identity = next
	m.mu.Unlock()

	if err := m.store.SaveIdentity(ctx, next, m.Document(maturity, humanReview)); err != nil {
		m.mu.Lock()
		m.identity = current
		m.mu.Unlock()
		return false, err
	}
	m.logger.Info("identity domain updated",
		zap.String("from", current.DID.String()),
		zap.String("to", did.String()),
	)
	return true, nil
}

var _ ports.MessageSigner = (*Manager)(nil)
