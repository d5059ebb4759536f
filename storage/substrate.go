package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cryptopkg "github.com/a-cube-io/ereceipts-sdk-go/crypto"
	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
)

// Encryptor is the Encryption Service seam the substrate encrypts through,
// satisfied by *crypto.Service.
type Encryptor interface {
	EncryptEntry(entryKey string, plaintext []byte) (*cryptopkg.Envelope, error)
	DecryptEntry(entryKey string, env *cryptopkg.Envelope) ([]byte, error)
}

// Config tunes the substrate's optional behaviors.
type Config struct {
	Namespace            string
	CacheSize            int
	CacheTTL             time.Duration
	CoalesceWindow       time.Duration
	CoalesceMaxBatch     int
	CompressionThreshold int // bytes; 0 disables compression
	SweepInterval        time.Duration
	Encryptor            Encryptor // nil disables encryption
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	return c
}

// record is the on-disk envelope: {data, metadata} (spec §6).
type record struct {
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
}

// encryptedPayload replaces Data when Metadata.Encrypted is true.
type encryptedPayload struct {
	Encrypted bool                `json:"encrypted"`
	Envelope  *cryptopkg.Envelope `json:"envelope"`
	Timestamp time.Time           `json:"timestamp"`
}

// Substrate is the namespaced, cached, coalescing, optionally-encrypted
// key/value store every other component persists through (spec §4.1).
type Substrate struct {
	backend    Backend
	cache      *entryCache
	coalescer  *writeCoalescer
	cfg        Config
	logger     *logging.Logger
	mu         sync.Mutex // not locked by any method; the counters below use sync/atomic
	corrupted  int64
	sweeps     int64
	closeOnce  sync.Once
	stopSweep  chan struct{}
}

// New builds a Substrate over backend.
func New(backend Backend, cfg Config, logger *logging.Logger) *Substrate {
	cfg = cfg.withDefaults()
	s := &Substrate{
		backend:   backend,
		cache:     newEntryCache(cfg.CacheSize, cfg.CacheTTL),
		cfg:       cfg,
		logger:    logger,
		stopSweep: make(chan struct{}),
	}
	s.coalescer = newWriteCoalescer(cfg.CoalesceWindow, cfg.CoalesceMaxBatch, s.writeThrough)
	go s.sweepLoop()
	return s
}

func (s *Substrate) namespacedKey(key string) string {
	if s.cfg.Namespace == "" {
		return key
	}
	return s.cfg.Namespace + ":" + key
}

// Set stores value under key with the given options. Writes pass through
// the coalescer; the cache is invalidated and repopulated immediately so
// reads within the same process stay coherent even before the batch flushes.
func (s *Substrate) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	nsKey := s.namespacedKey(key)
	now := time.Now().UTC()

	meta := Metadata{Key: key, CreatedAt: now, UpdatedAt: now, Version: SchemaVersion}
	if opts.TTL > 0 {
		exp := now.Add(opts.TTL)
		meta.ExpiresAt = &exp
	}
	if existing, ok := s.cache.get(nsKey); ok {
		meta.CreatedAt = existing.Metadata.CreatedAt
	}

	payload := value
	if opts.Compress || (s.cfg.CompressionThreshold > 0 && len(payload) > s.cfg.CompressionThreshold) {
		compressed, err := compress(payload)
		if err != nil {
			return err
		}
		payload = compressed
		meta.Compressed = true
	}

	var dataField json.RawMessage
	if opts.Encrypt && s.cfg.Encryptor != nil {
		env, err := s.cfg.Encryptor.EncryptEntry(key, payload)
		if err != nil {
			return err
		}
		wrapped := encryptedPayload{Encrypted: true, Envelope: env, Timestamp: now}
		raw, err := json.Marshal(wrapped)
		if err != nil {
			return sdkerrors.Internal("marshal encrypted payload", err)
		}
		dataField = raw
		meta.Encrypted = true
	} else if opts.Encrypt && s.cfg.Encryptor == nil {
		return sdkerrors.EncryptionUnavailable(nil)
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			return sdkerrors.Internal("marshal payload", err)
		}
		dataField = raw
	}

	rec := record{Data: dataField, Metadata: meta}
	raw, err := json.Marshal(rec)
	if err != nil {
		return sdkerrors.Internal("marshal record", err)
	}

	entry := &Entry{Key: key, Value: value, Metadata: meta}
	s.cache.invalidate(nsKey)
	s.cache.put(nsKey, entry)

	if err := s.coalescer.enqueue(ctx, nsKey, raw); err != nil {
		s.cache.invalidate(nsKey)
		return err
	}
	if s.logger != nil {
		s.logger.LogStorageEvent(ctx, "set", key, 0, nil)
	}
	return nil
}

func (s *Substrate) writeThrough(ctx context.Context, nsKey string, raw []byte) error {
	if err := s.backend.Set(ctx, nsKey, raw); err != nil {
		if sdkErr, ok := sdkerrors.As(err); ok && !sdkErr.Recoverable {
			return err
		}
		// QuotaExceeded-style failures: force one sweep and retry once.
		s.sweepExpired(ctx)
		return s.backend.Set(ctx, nsKey, raw)
	}
	return nil
}

// Get returns the entry for key, or (nil, false) if absent or expired.
func (s *Substrate) Get(ctx context.Context, key string) (*Entry, bool, error) {
	nsKey := s.namespacedKey(key)
	if entry, ok := s.cache.get(nsKey); ok {
		if entry.Metadata.expired(time.Now()) {
			s.cache.invalidate(nsKey)
			_, _ = s.backend.Delete(ctx, nsKey)
			return nil, false, nil
		}
		return entry, true, nil
	}

	raw, found, err := s.backend.Get(ctx, nsKey)
	if err != nil {
		return nil, false, sdkerrors.StorageError(err)
	}
	if !found {
		return nil, false, nil
	}

	entry, err := s.decodeRecord(key, raw)
	if err != nil {
		atomic.AddInt64(&s.corrupted, 1)
		_, _ = s.backend.Delete(ctx, nsKey)
		if s.logger != nil {
			s.logger.LogStorageEvent(ctx, "get", key, 0, err)
		}
		return nil, false, err
	}
	if entry.Metadata.expired(time.Now()) {
		_, _ = s.backend.Delete(ctx, nsKey)
		return nil, false, nil
	}

	s.cache.put(nsKey, entry)
	return entry, true, nil
}

func (s *Substrate) decodeRecord(key string, raw []byte) (*Entry, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, sdkerrors.StorageError(err)
	}

	var payload []byte
	if rec.Metadata.Encrypted {
		var enc encryptedPayload
		if err := json.Unmarshal(rec.Data, &enc); err != nil {
			return nil, sdkerrors.StorageError(err)
		}
		if s.cfg.Encryptor == nil {
			return nil, sdkerrors.EncryptionUnavailable(nil)
		}
		plaintext, err := s.cfg.Encryptor.DecryptEntry(key, enc.Envelope)
		if err != nil {
			return nil, err
		}
		payload = plaintext
	} else {
		if err := json.Unmarshal(rec.Data, &payload); err != nil {
			return nil, sdkerrors.StorageError(err)
		}
	}

	if rec.Metadata.Compressed {
		decompressed, err := decompress(payload)
		if err != nil {
			return nil, err
		}
		payload = decompressed
	}

	return &Entry{Key: key, Value: payload, Metadata: rec.Metadata}, nil
}

// Delete removes key, returning whether it existed.
func (s *Substrate) Delete(ctx context.Context, key string) (bool, error) {
	nsKey := s.namespacedKey(key)
	s.cache.invalidate(nsKey)
	existed, err := s.backend.Delete(ctx, nsKey)
	if err != nil {
		return false, sdkerrors.StorageError(err)
	}
	return existed, nil
}

// Exists reports whether key is present and unexpired.
func (s *Substrate) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Clear removes every entry. If namespace is non-empty, only keys under that
// namespace are removed; otherwise the whole backend prefix scope is cleared.
func (s *Substrate) Clear(ctx context.Context, namespace string) error {
	prefix := namespace
	if namespace == "" {
		prefix = s.cfg.Namespace
	}
	s.cache.purge()
	if err := s.backend.Clear(ctx, prefix); err != nil {
		return sdkerrors.StorageError(err)
	}
	return nil
}

// SetMany stores every key in items under the same options.
func (s *Substrate) SetMany(ctx context.Context, items map[string][]byte, opts SetOptions) error {
	for k, v := range items {
		if err := s.Set(ctx, k, v, opts); err != nil {
			return err
		}
	}
	return nil
}

// GetMany fetches every requested key, omitting ones that are absent.
func (s *Substrate) GetMany(ctx context.Context, keys []string) (map[string]*Entry, error) {
	out := make(map[string]*Entry, len(keys))
	for _, k := range keys {
		entry, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = entry
		}
	}
	return out, nil
}

// DeleteMany deletes every requested key.
func (s *Substrate) DeleteMany(ctx context.Context, keys []string) (int, error) {
	count := 0
	for _, k := range keys {
		existed, err := s.Delete(ctx, k)
		if err != nil {
			return count, err
		}
		if existed {
			count++
		}
	}
	return count, nil
}

// Keys returns every stored key under the substrate's namespace with the given prefix.
func (s *Substrate) Keys(ctx context.Context, prefix string) ([]string, error) {
	full := s.namespacedKey(prefix)
	nsKeys, err := s.backend.Keys(ctx, full)
	if err != nil {
		return nil, sdkerrors.StorageError(err)
	}
	out := make([]string, 0, len(nsKeys))
	trimPrefix := s.cfg.Namespace + ":"
	for _, k := range nsKeys {
		out = append(out, strings.TrimPrefix(k, trimPrefix))
	}
	return out, nil
}

// Values returns the decoded value for every key with the given prefix.
func (s *Substrate) Values(ctx context.Context, prefix string) ([][]byte, error) {
	entries, err := s.Entries(ctx, QueryOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}

// Entries runs Query and returns the matching entries.
func (s *Substrate) Entries(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	return s.Query(ctx, opts)
}

// Count returns the number of keys matching the query's prefix/namespace.
func (s *Substrate) Count(ctx context.Context, opts QueryOptions) (int, error) {
	entries, err := s.Query(ctx, QueryOptions{Namespace: opts.Namespace, Prefix: opts.Prefix, IncludeExpired: opts.IncludeExpired})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Query lists entries, applying prefix filtering, sorting and pagination.
func (s *Substrate) Query(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	prefix := opts.Prefix
	if opts.Namespace != "" {
		prefix = opts.Namespace + ":" + prefix
	} else {
		prefix = s.namespacedKey(prefix)
	}

	rawKeys, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, sdkerrors.StorageError(err)
	}

	trimPrefix := s.cfg.Namespace + ":"
	var out []*Entry
	now := time.Now()
	for _, nsKey := range rawKeys {
		raw, found, err := s.backend.Get(ctx, nsKey)
		if err != nil || !found {
			continue
		}
		key := strings.TrimPrefix(nsKey, trimPrefix)
		entry, err := s.decodeRecord(key, raw)
		if err != nil {
			atomic.AddInt64(&s.corrupted, 1)
			continue
		}
		if !opts.IncludeExpired && entry.Metadata.expired(now) {
			continue
		}
		out = append(out, entry)
	}

	sortEntries(out, opts.SortBy, opts.SortOrder)

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*Entry{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func sortEntries(entries []*Entry, field SortField, order SortOrder) {
	if field == "" {
		field = SortByKey
	}
	less := func(i, j int) bool {
		switch field {
		case SortByCreatedAt:
			return entries[i].Metadata.CreatedAt.Before(entries[j].Metadata.CreatedAt)
		case SortByUpdatedAt:
			return entries[i].Metadata.UpdatedAt.Before(entries[j].Metadata.UpdatedAt)
		default:
			return entries[i].Key < entries[j].Key
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if order == SortDesc {
			return less(j, i)
		}
		return less(i, j)
	})
}

// Stats reports substrate health for the analytics component.
func (s *Substrate) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.backend.Keys(ctx, s.cfg.Namespace)
	if err != nil {
		return Stats{}, sdkerrors.StorageError(err)
	}
	return Stats{
		EntryCount:       len(keys),
		CacheHits:        atomic.LoadInt64(&s.cache.hits),
		CacheMisses:      atomic.LoadInt64(&s.cache.misses),
		CacheSize:        s.cache.len(),
		CorruptedEntries: atomic.LoadInt64(&s.corrupted),
		Sweeps:           atomic.LoadInt64(&s.sweeps),
	}, nil
}

// Optimize runs an immediate sweep of expired entries, used after heavy churn.
func (s *Substrate) Optimize(ctx context.Context) error {
	s.sweepExpired(ctx)
	return nil
}

func (s *Substrate) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepExpired(context.Background())
		case <-s.stopSweep:
			return
		}
	}
}

// sweepExpired removes stale cache entries and expired persisted entries,
// run on an interval and also forced once when a write reports QuotaExceeded.
func (s *Substrate) sweepExpired(ctx context.Context) {
	atomic.AddInt64(&s.sweeps, 1)
	keys, err := s.backend.Keys(ctx, s.cfg.Namespace)
	if err != nil {
		return
	}
	now := time.Now()
	trimPrefix := s.cfg.Namespace + ":"
	for _, nsKey := range keys {
		raw, found, err := s.backend.Get(ctx, nsKey)
		if err != nil || !found {
			continue
		}
		key := strings.TrimPrefix(nsKey, trimPrefix)
		entry, err := s.decodeRecord(key, raw)
		if err != nil {
			atomic.AddInt64(&s.corrupted, 1)
			_, _ = s.backend.Delete(ctx, nsKey)
			continue
		}
		if entry.Metadata.expired(now) {
			_, _ = s.backend.Delete(ctx, nsKey)
			s.cache.invalidate(nsKey)
		}
	}
}

// OnMemoryPressure fully evicts the cache and flushes pending coalesced
// writes, per the background-sweeper's memory-pressure response (spec §4.1).
func (s *Substrate) OnMemoryPressure(ctx context.Context) {
	s.cache.purge()
	s.coalescer.flush(ctx)
}

// Close flushes pending writes, stops the sweeper and closes the backend.
func (s *Substrate) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.coalescer.close(ctx)
		close(s.stopSweep)
		err = s.backend.Close()
	})
	return err
}
