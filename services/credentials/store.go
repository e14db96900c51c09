package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services"
	"github.com/upb/ai-gateway/services/providers"
)

// codec seals payloads before they reach the backend
type codec interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Store validates and keeps provider credentials. Reads are served from a
// cache; writes go through to the backend one at a time.
type Store struct {
	catalog *providers.Catalog
	backend SecretStore
	codec   codec
	logger  *zap.Logger
	now     func() time.Time

	writeMu sync.Mutex
	mu      sync.RWMutex
	cache   map[string]*ProviderCredential
}

// Option configures a Store
type Option func(*Store)

// WithEncryptor seals payloads with envelope encryption
func WithEncryptor(enc *Encryptor) Option {
	return func(s *Store) {
		if enc != nil {
			s.codec = enc
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a credential store backed by backend
func NewStore(catalog *providers.Catalog, backend SecretStore, opts ...Option) *Store {
	s := &Store{
		catalog: catalog,
		backend: backend,
		codec:   plainCodec{},
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		cache:   make(map[string]*ProviderCredential),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fills the cache from the backend. Records for providers that are no
// longer catalogued are skipped.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.backend.List(ctx)
	if err != nil {
		return services.WrapInternal("failed to list credentials", err)
	}

	loaded := make(map[string]*ProviderCredential, len(records))
	for _, rec := range records {
		if !s.catalog.Has(rec.ProviderID) {
			s.logger.Warn("skipping credential for unknown provider", zap.String("provider", rec.ProviderID))
			continue
		}
		cred, err := s.decode(rec)
		if err != nil {
			return err
		}
		loaded[rec.ProviderID] = cred
	}

	s.mu.Lock()
	s.cache = loaded
	s.mu.Unlock()

	s.logger.Info("credentials loaded", zap.Int("count", len(loaded)))
	return nil
}

// Save validates fields against the provider descriptor and replaces any
// existing credential. Nothing is written when validation fails.
func (s *Store) Save(ctx context.Context, providerID string, fields map[string]string) (*ProviderCredential, error) {
	desc, err := s.catalog.Get(providerID)
	if err != nil {
		return nil, services.NewValidationError("unknown provider").WithDetail("provider", providerID)
	}

	clean, err := validateFields(desc, fields)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	cred := &ProviderCredential{
		ProviderID: providerID,
		Fields:     clean,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, ok := s.cached(providerID); ok {
		cred.CreatedAt = existing.CreatedAt
	}

	if err := s.persist(ctx, cred); err != nil {
		return nil, err
	}

	s.logger.Info("credential saved",
		zap.String("provider", providerID),
		zap.Strings("fields", cred.Redacted().Fields))

	return cred.clone(), nil
}

// Get returns the active credential for a provider
func (s *Store) Get(ctx context.Context, providerID string) (*ProviderCredential, error) {
	cred, ok := s.cached(providerID)
	if !ok {
		var err error
		if cred, err = s.fill(ctx, providerID); err != nil {
			return nil, err
		}
	}

	if !cred.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrNotConfigured, providerID)
	}
	return cred.clone(), nil
}

// fill loads a missed credential into the cache. It holds writeMu so a
// concurrent Save or Remove cannot be overwritten by a stale backend read.
func (s *Store) fill(ctx context.Context, providerID string) (*ProviderCredential, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if cred, ok := s.cached(providerID); ok {
		return cred, nil
	}

	rec, err := s.backend.Get(ctx, providerID)
	if errors.Is(err, ErrSecretNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, providerID)
	}
	if err != nil {
		return nil, services.WrapInternal("failed to load credential", err)
	}
	cred, err := s.decode(rec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[providerID] = cred
	s.mu.Unlock()
	return cred, nil
}

// Remove deletes the credential for a provider
func (s *Store) Remove(ctx context.Context, providerID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.Delete(ctx, providerID); err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return services.NewDomainError(services.ErrorTypeNotFound, "credential not found", nil).
				WithDetail("provider", providerID)
		}
		return services.WrapInternal("failed to delete credential", err)
	}

	s.mu.Lock()
	delete(s.cache, providerID)
	s.mu.Unlock()

	s.logger.Info("credential removed", zap.String("provider", providerID))
	return nil
}

// SetActive toggles a credential without re-entering its secrets
func (s *Store) SetActive(ctx context.Context, providerID string, active bool) (*ProviderCredential, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cred, ok := s.cached(providerID)
	if !ok {
		rec, err := s.backend.Get(ctx, providerID)
		if errors.Is(err, ErrSecretNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "credential not found", nil).
				WithDetail("provider", providerID)
		}
		if err != nil {
			return nil, services.WrapInternal("failed to load credential", err)
		}
		if cred, err = s.decode(rec); err != nil {
			return nil, err
		}
	}

	updated := cred.clone()
	updated.Active = active
	updated.UpdatedAt = s.now()
	if err := s.persist(ctx, updated); err != nil {
		return nil, err
	}

	s.logger.Info("credential activation changed",
		zap.String("provider", providerID),
		zap.Bool("active", active))
	return updated.clone(), nil
}

// List returns redacted views of every stored credential
func (s *Store) List() []Confirmation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Confirmation, 0, len(s.cache))
	for _, cred := range s.cache {
		out = append(out, cred.Redacted())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Configured returns the ids of providers with an active credential
func (s *Store) Configured() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.cache))
	for id, cred := range s.cache {
		if cred.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) cached(providerID string) (*ProviderCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.cache[providerID]
	return cred, ok
}

func (s *Store) persist(ctx context.Context, cred *ProviderCredential) error {
	payload, err := json.Marshal(cred.Fields)
	if err != nil {
		return services.WrapInternal("failed to encode credential", err)
	}
	sealed, err := s.codec.Seal(payload)
	if err != nil {
		return services.WrapInternal("failed to seal credential", err)
	}

	rec := &SecretRecord{
		ProviderID: cred.ProviderID,
		Payload:    sealed,
		Active:     cred.Active,
		CreatedAt:  cred.CreatedAt,
		UpdatedAt:  cred.UpdatedAt,
	}
	if err := s.backend.Put(ctx, rec); err != nil {
		return services.WrapInternal("failed to store credential", err)
	}

	s.mu.Lock()
	s.cache[cred.ProviderID] = cred.clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) decode(rec *SecretRecord) (*ProviderCredential, error) {
	payload, err := s.codec.Open(rec.Payload)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInternal, "failed to open credential", err).
			WithDetail("provider", rec.ProviderID)
	}

	var fields map[string]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, services.WrapInternal("failed to decode credential", err)
	}

	return &ProviderCredential{
		ProviderID: rec.ProviderID,
		Fields:     fields,
		Active:     rec.Active,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}

// validateFields checks fields against the descriptor and returns a trimmed
// copy. Blank optional fields are dropped.
func validateFields(desc providers.ProviderDescriptor, fields map[string]string) (map[string]string, error) {
	for key := range fields {
		if _, ok := desc.Field(key); !ok {
			return nil, services.NewValidationError("undeclared credential field").
				WithDetail("provider", desc.ID).
				WithDetail("field", key)
		}
	}

	clean := make(map[string]string, len(fields))
	var missing []string
	for _, f := range desc.CredentialFields {
		value := strings.TrimSpace(fields[f.Key])
		if value == "" {
			if f.Required {
				missing = append(missing, f.Key)
			}
			continue
		}
		clean[f.Key] = value
	}

	if len(missing) > 0 {
		return nil, services.NewValidationError("missing required credential fields").
			WithDetail("provider", desc.ID).
			WithDetail("fields", missing)
	}
	return clean, nil
}
