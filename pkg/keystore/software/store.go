// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package software implements keystore.Store in process. Key pairs are RSA,
// kept as PKCS#8 (optionally password encrypted), each with a self-signed
// certificate carrying the public key and a CBOR metadata record holding the
// generation policy. Authentication-bound keys refuse to decrypt until a
// sensor authorizes the operation through Authorize.
package software

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/youmark/pkcs8"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

const (
	// DefaultKeySize is the RSA modulus size used when Config.KeySize is zero.
	DefaultKeySize = 2048

	// MinKeySize is the smallest modulus the store will generate.
	MinKeySize = 1024
)

// Config contains configuration for the software Store.
type Config struct {
	// Storage holds the key, certificate and metadata records. Required.
	Storage storage.Backend

	// KeySize is the RSA modulus size in bits. Defaults to DefaultKeySize.
	KeySize int

	// Password, when set, encrypts private keys at rest with PKCS#8 PBES2.
	Password []byte

	// Enrollment reports the enrolled template digest. Optional; without it
	// enrollment invalidation is never triggered.
	Enrollment keystore.EnrollmentSource

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger

	// Now overrides the clock used for certificate windows and metadata.
	Now func() time.Time

	// Rand overrides the entropy source. Defaults to crypto/rand.
	Rand io.Reader
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Storage == nil {
		return fmt.Errorf("storage is required")
	}
	if c.KeySize == 0 {
		c.KeySize = DefaultKeySize
	}
	if c.KeySize < MinKeySize {
		return fmt.Errorf("RSA key size must be at least %d bits", MinKeySize)
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	return nil
}

// KeyInfo is the metadata recorded for a key pair at generation.
type KeyInfo struct {
	Alias            types.KeyAlias            `cbor:"-" json:"alias"`
	ID               string                    `cbor:"1,keyasint" json:"id"`
	Tier             types.PlatformTier        `cbor:"2,keyasint" json:"tier"`
	Policy           types.KeyGenerationPolicy `cbor:"3,keyasint" json:"policy"`
	KeySize          int                       `cbor:"4,keyasint" json:"key_size"`
	CreatedAt        int64                     `cbor:"5,keyasint" json:"created_at"`
	EnrollmentDigest []byte                    `cbor:"6,keyasint,omitempty" json:"-"`
	Invalidated      bool                      `cbor:"7,keyasint,omitempty" json:"invalidated"`
}

// operation is an outstanding private-key operation.
type operation struct {
	alias      types.KeyAlias
	key        *rsa.PrivateKey
	gated      bool
	authorized bool
}

// Store is the software keystore.Store. It also implements
// keystore.OperationAuthorizer.
//
// Thread-safe: Yes. At most one private-key operation per alias may be
// outstanding; a second PrivateKey call returns keystore.ErrKeyBusy.
type Store struct {
	cfg     Config
	storage storage.Backend
	logger  *logging.Logger

	mu     sync.Mutex
	ops    map[uint64]*operation
	busy   map[types.KeyAlias]uint64
	closed bool
}

var (
	_ keystore.Store               = (*Store)(nil)
	_ keystore.OperationAuthorizer = (*Store)(nil)
)

// New creates a software store.
func New(config *Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Store{
		cfg:     *config,
		storage: config.Storage,
		logger:  config.Logger,
		ops:     make(map[uint64]*operation),
		busy:    make(map[types.KeyAlias]uint64),
	}, nil
}

// Generate creates a new RSA key pair for spec, replacing any existing pair
// under the same alias.
func (s *Store) Generate(spec types.GenerationSpec) error {
	if spec == nil {
		return fmt.Errorf("%w: spec is nil", keystore.ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrInvalidSpec, err)
	}
	policy := spec.Policy()
	if policy.ValiditySeconds != types.NoValidityWindow {
		return fmt.Errorf("%w: only per-operation authentication is supported (validity %ds)",
			keystore.ErrInvalidSpec, policy.ValiditySeconds)
	}
	alias := spec.KeyAlias()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.ErrStoreClosed
	}

	var digest []byte
	if policy.InvalidateOnEnrollmentChange && s.cfg.Enrollment != nil {
		d, err := s.cfg.Enrollment.EnrollmentDigest()
		if err != nil {
			return fmt.Errorf("failed to read enrollment state: %w", err)
		}
		digest = d
	}

	key, err := rsa.GenerateKey(s.cfg.Rand, s.cfg.KeySize)
	if err != nil {
		return fmt.Errorf("key generation failed: %w", err)
	}

	now := s.cfg.Now()
	certPEM, err := s.selfSign(spec, key, now)
	if err != nil {
		return err
	}
	keyDER, err := s.encodeKey(key)
	if err != nil {
		return err
	}
	info := &KeyInfo{
		ID:               uuid.NewString(),
		Tier:             spec.Tier(),
		Policy:           policy,
		KeySize:          s.cfg.KeySize,
		CreatedAt:        now.Unix(),
		EnrollmentDigest: digest,
	}
	metaCBOR, err := cbor.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode key metadata: %w", err)
	}

	// The key record goes last so Exists never sees a partial pair.
	if err := s.storage.Put(storage.CertPath(alias.String()), certPEM, nil); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	if err := s.storage.Put(storage.MetaPath(alias.String()), metaCBOR, nil); err != nil {
		return fmt.Errorf("failed to save key metadata: %w", err)
	}
	if err := s.storage.Put(storage.KeyPath(alias.String()), keyDER, nil); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}
	// An operation opened on the replaced key must not hold the alias.
	if id, ok := s.busy[alias]; ok {
		delete(s.ops, id)
		delete(s.busy, alias)
	}

	s.logger.Info("key pair generated",
		"alias", alias, "id", info.ID, "tier", info.Tier.String(), "policy", policy.String())
	return nil
}

// Exists reports whether a key pair is stored under alias.
func (s *Store) Exists(alias types.KeyAlias) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, keystore.ErrStoreClosed
	}
	return s.storage.Exists(storage.KeyPath(alias.String()))
}

// PrivateKey opens a private-key operation on alias.
func (s *Store) PrivateKey(alias types.KeyAlias) (keystore.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, keystore.ErrStoreClosed
	}

	info, err := s.loadInfo(alias)
	if err != nil {
		return nil, err
	}
	if err := s.checkEnrollment(info); err != nil {
		return nil, err
	}
	if _, ok := s.busy[alias]; ok {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyBusy, alias)
	}

	der, err := s.storage.Get(storage.KeyPath(alias.String()))
	if err != nil {
		return nil, s.notFound(alias, err)
	}
	key, err := s.decodeKey(der)
	if err != nil {
		return nil, err
	}

	id, err := s.newOperationID()
	if err != nil {
		return nil, err
	}
	s.ops[id] = &operation{
		alias: alias,
		key:   key,
		gated: info.Policy.RequiresLiveAuthentication,
	}
	s.busy[alias] = id

	s.logger.Debug("private key operation opened", "alias", alias, "op", id)
	return &privateKey{store: s, id: id, size: key.Size()}, nil
}

// PublicKey returns the public key from the stored certificate.
func (s *Store) PublicKey(alias types.KeyAlias) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, keystore.ErrStoreClosed
	}

	cert, err := s.certificate(alias)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate for %s does not carry an RSA key", alias)
	}
	return pub, nil
}

// Certificate returns the self-signed certificate issued for alias.
func (s *Store) Certificate(alias types.KeyAlias) (*x509.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, keystore.ErrStoreClosed
	}
	return s.certificate(alias)
}

// Delete removes the key pair and ends any outstanding operation on it.
func (s *Store) Delete(alias types.KeyAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.ErrStoreClosed
	}

	ok, err := s.storage.Exists(storage.KeyPath(alias.String()))
	if err != nil {
		return fmt.Errorf("failed to check key existence: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	if id, ok := s.busy[alias]; ok {
		delete(s.ops, id)
		delete(s.busy, alias)
	}
	if err := storage.DeleteAll(s.storage, storage.AliasPaths(alias.String())...); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	s.logger.Info("key pair deleted", "alias", alias)
	return nil
}

// Info returns the metadata recorded for alias.
func (s *Store) Info(alias types.KeyAlias) (*KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, keystore.ErrStoreClosed
	}
	info, err := s.loadInfo(alias)
	if err != nil {
		return nil, err
	}
	// Report, but do not persist, a pending enrollment invalidation.
	if !info.Invalidated {
		changed, err := s.enrollmentChanged(info)
		if err != nil {
			s.logger.Error(err, "alias", alias)
		}
		info.Invalidated = changed
	}
	return info, nil
}

// Aliases returns every alias holding a key pair.
func (s *Store) Aliases() ([]types.KeyAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, keystore.ErrStoreClosed
	}
	names, err := storage.ListAliases(s.storage)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	aliases := make([]types.KeyAlias, len(names))
	for i, n := range names {
		aliases[i] = types.KeyAlias(n)
	}
	return aliases, nil
}

// Authorize marks an outstanding operation as authenticated by a live scan.
func (s *Store) Authorize(operationID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.ErrStoreClosed
	}
	op, ok := s.ops[operationID]
	if !ok {
		return fmt.Errorf("%w: %d", keystore.ErrInvalidOperation, operationID)
	}
	op.authorized = true
	s.logger.Debug("operation authorized", "alias", op.alias, "op", operationID)
	return nil
}

// Close ends all operations and closes the underlying storage.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ops = nil
	s.busy = nil
	return s.storage.Close()
}

// decrypt spends operation id.
func (s *Store) decrypt(id uint64, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, keystore.ErrStoreClosed
	}
	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", keystore.ErrInvalidOperation, id)
	}
	if op.gated && !op.authorized {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", keystore.ErrUserNotAuthenticated, op.alias)
	}
	s.release(id)
	s.mu.Unlock()

	plaintext, err := rsa.DecryptPKCS1v15(s.cfg.Rand, op.key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// release drops operation id. Callers hold mu.
func (s *Store) release(id uint64) {
	op, ok := s.ops[id]
	if !ok {
		return
	}
	delete(s.ops, id)
	if s.busy[op.alias] == id {
		delete(s.busy, op.alias)
	}
}

func (s *Store) loadInfo(alias types.KeyAlias) (*KeyInfo, error) {
	data, err := s.storage.Get(storage.MetaPath(alias.String()))
	if err != nil {
		return nil, s.notFound(alias, err)
	}
	var info KeyInfo
	if err := cbor.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode key metadata for %s: %w", alias, err)
	}
	info.Alias = alias
	return &info, nil
}

// checkEnrollment permanently invalidates the key when the enrolled
// templates changed since generation. Callers hold mu.
func (s *Store) checkEnrollment(info *KeyInfo) error {
	if info.Invalidated {
		return fmt.Errorf("%w: %s", keystore.ErrKeyInvalidated, info.Alias)
	}
	changed, err := s.enrollmentChanged(info)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	info.Invalidated = true
	data, err := cbor.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode key metadata: %w", err)
	}
	if err := s.storage.Put(storage.MetaPath(info.Alias.String()), data, nil); err != nil {
		return fmt.Errorf("failed to save key metadata: %w", err)
	}
	s.logger.Warn("key permanently invalidated by enrollment change", "alias", info.Alias)
	return fmt.Errorf("%w: %s", keystore.ErrKeyInvalidated, info.Alias)
}

// enrollmentChanged fails closed: a key bound to the enrollment is unusable
// while the enrollment state cannot be read.
func (s *Store) enrollmentChanged(info *KeyInfo) (bool, error) {
	if !info.Policy.InvalidateOnEnrollmentChange || s.cfg.Enrollment == nil {
		return false, nil
	}
	current, err := s.cfg.Enrollment.EnrollmentDigest()
	if err != nil {
		return false, fmt.Errorf("failed to read enrollment state for %s: %w", info.Alias, err)
	}
	return !bytes.Equal(current, info.EnrollmentDigest), nil
}

func (s *Store) certificate(alias types.KeyAlias) (*x509.Certificate, error) {
	data, err := s.storage.Get(storage.CertPath(alias.String()))
	if err != nil {
		return nil, s.notFound(alias, err)
	}
	return decodeCertificate(data)
}

func (s *Store) encodeKey(key *rsa.PrivateKey) ([]byte, error) {
	if len(s.cfg.Password) > 0 {
		der, err := pkcs8.MarshalPrivateKey(key, s.cfg.Password, nil)
		if err != nil {
			return nil, fmt.Errorf("key encoding failed: %w", err)
		}
		return der, nil
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("key encoding failed: %w", err)
	}
	return der, nil
}

func (s *Store) decodeKey(der []byte) (*rsa.PrivateKey, error) {
	var (
		parsed any
		err    error
	)
	if len(s.cfg.Password) > 0 {
		parsed, err = pkcs8.ParsePKCS8PrivateKey(der, s.cfg.Password)
	} else {
		parsed, err = x509.ParsePKCS8PrivateKey(der)
	}
	if err != nil {
		return nil, fmt.Errorf("key decoding failed: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key decoding failed: unexpected key type %T", parsed)
	}
	return key, nil
}

func (s *Store) newOperationID() (uint64, error) {
	var b [8]byte
	for {
		if _, err := io.ReadFull(s.cfg.Rand, b[:]); err != nil {
			return 0, fmt.Errorf("failed to allocate operation id: %w", err)
		}
		id := binary.BigEndian.Uint64(b[:])
		if _, taken := s.ops[id]; id != 0 && !taken {
			return id, nil
		}
	}
}

func (s *Store) notFound(alias types.KeyAlias, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	if errors.Is(err, storage.ErrClosed) {
		return keystore.ErrStoreClosed
	}
	return fmt.Errorf("failed to retrieve key: %w", err)
}

// privateKey is the keystore.PrivateKey handed out by PrivateKey.
type privateKey struct {
	store *Store
	id    uint64
	size  int
}

func (k *privateKey) Decrypt(ciphertext []byte) ([]byte, error) {
	return k.store.decrypt(k.id, ciphertext)
}

func (k *privateKey) OperationID() uint64 { return k.id }

func (k *privateKey) Size() int { return k.size }

func (k *privateKey) Release() {
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	if !k.store.closed {
		k.store.release(k.id)
	}
}
