// Package tokenstore implements the Token Store (spec §4.3): the single
// encrypted Token Record that sits above the Storage Substrate, with an
// in-process cache, legacy-key migration and an optional platform-hardening
// hook.
package tokenstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
	"github.com/a-cube-io/ereceipts-sdk-go/rbac"
	"github.com/a-cube-io/ereceipts-sdk-go/storage"
)

// RecordKey is the well-known storage key the Token Record lives under
// (spec §6 persisted layout).
const RecordKey = "acube_auth"

// LegacyRecordKey is the one known legacy layout migrated on first read.
const LegacyRecordKey = "acube_auth_legacy"

// schemaVersion is bumped whenever Record's on-disk shape changes; a reader
// that understands an older version must still be able to parse it.
const schemaVersion = 2

// BoundUser is the subset of the composed User Record persisted alongside
// the token triple so a session can be fully reconstructed after a process
// restart, without a further round trip to the login endpoint (spec §3's
// Token Record "bound user" field).
type BoundUser struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	EffectiveRoles []rbac.Role `json:"effective_roles"`
	PrimaryRole    rbac.Role   `json:"primary_role"`
	SimpleRole     rbac.Role   `json:"simple_role"`
	MerchantID     string      `json:"merchant_id"`
	CashierID      string      `json:"cashier_id"`
	PointOfSaleID  string      `json:"point_of_sale_id"`
}

// Record is the Token Record persisted as one entry (spec §3): the token
// triple, the user it is bound to, the device it was issued to, and the
// bookkeeping fields needed to evolve the on-disk shape safely.
type Record struct {
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token"`
	TokenType     string     `json:"token_type"`
	ExpiresAt     time.Time  `json:"expires_at"`
	User          *BoundUser `json:"user,omitempty"`
	DeviceID      string     `json:"device_id,omitempty"`
	EncryptedAt   time.Time  `json:"encrypted_at"`
	SchemaVersion int        `json:"schema_version"`
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// SecureHook is the best-effort platform-hardening seam: an OS keychain or
// secure keystore write that never blocks the primary storage path.
type SecureHook interface {
	Store(ctx context.Context, record Record) error
	Clear(ctx context.Context) error
}

// Stats summarises Token Store activity for the analytics component.
type Stats struct {
	Stores      int64
	Retrievals  int64
	CacheHits   int64
	CacheMisses int64
}

// Store owns the single active Token Record.
type Store struct {
	substrate *storage.Substrate
	logger    *logging.Logger
	hook      SecureHook

	mu      sync.RWMutex
	cached  *Record
	loaded  bool
	stats   Stats
}

// New constructs a Store over substrate. hook may be nil.
func New(substrate *storage.Substrate, hook SecureHook, logger *logging.Logger) *Store {
	return &Store{substrate: substrate, hook: hook, logger: logger}
}

// Migrate runs the legacy-key migration described in spec §4.3: if a legacy
// key exists, its contents are parsed, re-stored in the new format, and the
// legacy key is removed. Call once during initialisation.
func (s *Store) Migrate(ctx context.Context) error {
	entry, ok, err := s.substrate.Get(ctx, LegacyRecordKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var legacy Record
	if err := json.Unmarshal(entry.Value, &legacy); err != nil {
		// Corrupted legacy record: drop it rather than block startup.
		_, _ = s.substrate.Delete(ctx, LegacyRecordKey)
		return nil
	}

	if err := s.Store(ctx, legacy); err != nil {
		return err
	}
	_, err = s.substrate.Delete(ctx, LegacyRecordKey)
	return err
}

// Store persists record, encrypted, and invalidates/repopulates the cache.
// EncryptedAt and SchemaVersion are stamped here so callers never need to
// set them themselves.
func (s *Store) Store(ctx context.Context, record Record) error {
	record.EncryptedAt = time.Now().UTC()
	record.SchemaVersion = schemaVersion

	raw, err := json.Marshal(record)
	if err != nil {
		return sdkerrors.Internal("marshal token record", err)
	}

	if err := s.substrate.Set(ctx, RecordKey, raw, storage.SetOptions{Encrypt: true}); err != nil {
		return err
	}

	s.mu.Lock()
	s.cached = &record
	s.loaded = true
	s.stats.Stores++
	s.mu.Unlock()

	if s.hook != nil {
		if err := s.hook.Store(ctx, record); err != nil && s.logger != nil {
			s.logger.LogAuthEvent(ctx, "token_store:hook_failed", err)
		}
	}
	return nil
}

// Update atomically patches the current record with a partial update and
// bumps it through Store. patch receives a copy of the current record (the
// zero value if none exists).
func (s *Store) Update(ctx context.Context, patch func(Record) Record) error {
	current, _, err := s.Retrieve(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		current = &Record{}
	}
	return s.Store(ctx, patch(*current))
}

// Retrieve returns the current record, or (nil, false) if absent or expired.
func (s *Store) Retrieve(ctx context.Context) (*Record, bool, error) {
	s.mu.RLock()
	if s.loaded {
		cached := s.cached
		s.mu.RUnlock()
		s.mu.Lock()
		s.stats.Retrievals++
		s.stats.CacheHits++
		s.mu.Unlock()
		if cached == nil || cached.expired(time.Now()) {
			return nil, false, nil
		}
		return cached, true, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	s.stats.Retrievals++
	s.stats.CacheMisses++
	s.mu.Unlock()

	entry, ok, err := s.substrate.Get(ctx, RecordKey)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.loaded = true
	if !ok {
		s.cached = nil
		s.mu.Unlock()
		return nil, false, nil
	}

	var record Record
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		s.cached = nil
		s.mu.Unlock()
		return nil, false, sdkerrors.Internal("unmarshal token record", err)
	}
	s.cached = &record
	s.mu.Unlock()

	if record.expired(time.Now()) {
		return nil, false, nil
	}
	return &record, true, nil
}

// RetrieveRaw returns the current record regardless of expiry, or (nil,
// false) only if no record is stored at all. Session restoration (spec
// §4.6) needs to distinguish "expired, but a refresh token is present" from
// "absent", which Retrieve's expiry filtering collapses into the same
// false.
func (s *Store) RetrieveRaw(ctx context.Context) (*Record, bool, error) {
	s.mu.RLock()
	if s.loaded {
		cached := s.cached
		s.mu.RUnlock()
		s.mu.Lock()
		s.stats.Retrievals++
		s.stats.CacheHits++
		s.mu.Unlock()
		return cached, cached != nil, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	s.stats.Retrievals++
	s.stats.CacheMisses++
	s.mu.Unlock()

	entry, ok, err := s.substrate.Get(ctx, RecordKey)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.loaded = true
	if !ok {
		s.cached = nil
		s.mu.Unlock()
		return nil, false, nil
	}

	var record Record
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		s.cached = nil
		s.mu.Unlock()
		return nil, false, sdkerrors.Internal("unmarshal token record", err)
	}
	s.cached = &record
	s.mu.Unlock()

	return &record, true, nil
}

// Clear removes the record from storage, the cache, and the hardening hook.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cached = nil
	s.loaded = true
	s.mu.Unlock()

	if _, err := s.substrate.Delete(ctx, RecordKey); err != nil {
		return err
	}
	if s.hook != nil {
		if err := s.hook.Clear(ctx); err != nil && s.logger != nil {
			s.logger.LogAuthEvent(ctx, "token_store:hook_clear_failed", err)
		}
	}
	return nil
}

// Exists reports whether an unexpired record is present.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, ok, err := s.Retrieve(ctx)
	return ok, err
}

// Stats returns a snapshot of store activity.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
