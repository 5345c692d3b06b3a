package hasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/adapter/filesystem"
	"github.com/vertextoedge/dupecache/internal/domain"
)

// memCache is an in-memory port.HashCache
type memCache struct {
	mu        sync.Mutex
	entries   map[string]domain.HashEntry
	lookupErr error
	storeErr  error
	stores    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]domain.HashEntry)}
}

func (m *memCache) key(path string, algo domain.Algorithm) string {
	return path + "\x00" + string(algo)
}

func (m *memCache) Lookup(_ context.Context, id domain.FileIdentity, algo domain.Algorithm) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return "", false, m.lookupErr
	}
	e, ok := m.entries[m.key(id.Path, algo)]
	if !ok || !e.Identity.Matches(id) {
		return "", false, nil
	}
	return e.Hash, true, nil
}

func (m *memCache) Store(_ context.Context, id domain.FileIdentity, algo domain.Algorithm, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.stores++
	m.entries[m.key(id.Path, algo)] = domain.HashEntry{Identity: id, Algorithm: algo, Hash: hash}
	return nil
}

func (m *memCache) Invalidate(context.Context, string) (int64, error) { return 0, nil }
func (m *memCache) Compact(context.Context) (*domain.CompactResult, error) {
	return &domain.CompactResult{}, nil
}
func (m *memCache) Clear(context.Context) error { return nil }
func (m *memCache) Stats(context.Context) (*domain.CacheStatistics, error) {
	return &domain.CacheStatistics{}, nil
}
func (m *memCache) Entries(context.Context, func(domain.HashEntry) error) error { return nil }
func (m *memCache) Ping(context.Context) error                                  { return nil }
func (m *memCache) Close() error                                                { return nil }

func newTestComputer(t *testing.T, cache *memCache, mem afero.Fs, algo domain.Algorithm) *Computer {
	t.Helper()
	c, err := New(cache, filesystem.NewManager(mem), Options{Algorithm: algo, ChunkSize: MinChunkSize}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestDigestReader_KnownVectors(t *testing.T) {
	tests := []struct {
		algo domain.Algorithm
		want string
	}{
		{domain.AlgorithmMD5, "5d41402abc4b2a76b9719d911017c592"},
		{domain.AlgorithmSHA1, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{domain.AlgorithmSHA256, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
	}

	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			got, n, err := DigestReader(strings.NewReader("hello"), tt.algo, MinChunkSize)
			if err != nil {
				t.Fatalf("DigestReader() error = %v", err)
			}
			if got != tt.want || n != 5 {
				t.Errorf("DigestReader() = %s (%d bytes), want %s", got, n, tt.want)
			}
		})
	}
}

func TestDigestReader_ChunkSizeIndependent(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 10_000)

	for _, algo := range domain.Algorithms() {
		t.Run(string(algo), func(t *testing.T) {
			small, _, err := DigestReader(bytes.NewReader(data), algo, 7)
			if err != nil {
				t.Fatalf("DigestReader() error = %v", err)
			}
			large, _, _ := DigestReader(bytes.NewReader(data), algo, 1<<20)
			if small != large {
				t.Errorf("digest depends on chunk size: %s vs %s", small, large)
			}

			other, _, _ := DigestReader(bytes.NewReader(data[1:]), algo, 4096)
			if other == small {
				t.Error("different content produced the same digest")
			}
		})
	}
}

func TestNewHash_UnknownAlgorithm(t *testing.T) {
	if _, err := NewHash("crc32"); !errors.Is(err, domain.ErrUnknownAlgo) {
		t.Errorf("NewHash() error = %v, want ErrUnknownAlgo", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"unknown algorithm", Options{Algorithm: "crc32"}, domain.ErrUnknownAlgo},
		{"chunk too small", Options{ChunkSize: 16}, domain.ErrInvalidInput},
		{"chunk too large", Options{ChunkSize: MaxChunkSize + 1}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newMemCache(), filesystem.NewManager(afero.NewMemMapFs()), tt.opts, zap.NewNop())
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}

	c, err := New(newMemCache(), filesystem.NewManager(afero.NewMemMapFs()), Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() with zero options error = %v", err)
	}
	if c.Algorithm() != domain.AlgorithmSHA256 {
		t.Errorf("default algorithm = %s", c.Algorithm())
	}
}

func TestComputer_CacheHitSkipsRead(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/data/a.txt", []byte("hello"), 0644)
	cache := newMemCache()
	c := newTestComputer(t, cache, mem, domain.AlgorithmSHA256)

	first, err := c.Hash(ctx, "/data/a.txt")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if first.CacheHit {
		t.Error("first hash should miss")
	}

	second, err := c.Hash(ctx, "/data/a.txt")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !second.CacheHit || second.Hash != first.Hash {
		t.Errorf("second hash = %+v, want cache hit with same digest", second)
	}

	stats := c.Stats()
	if stats.FilesOpened != 1 || stats.CacheHits != 1 || stats.CacheMisses != 1 || stats.BytesRead != 5 {
		t.Errorf("stats = %+v, want exactly one read", stats)
	}
}

func TestComputer_ChangedFileIsRehashed(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/a", []byte("hello"), 0644)
	c := newTestComputer(t, newMemCache(), mem, domain.AlgorithmMD5)

	before, _ := c.Hash(ctx, "/a")
	afero.WriteFile(mem, "/a", []byte("hello, world"), 0644)
	after, err := c.Hash(ctx, "/a")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if after.CacheHit || after.Hash == before.Hash {
		t.Errorf("modified file should be recomputed, got %+v", after)
	}
	if c.Stats().FilesOpened != 2 {
		t.Errorf("files opened = %d, want 2", c.Stats().FilesOpened)
	}
}

func TestComputer_StaleIdentityIsNotCached(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/a", []byte("hello"), 0644)
	cache := newMemCache()
	c := newTestComputer(t, cache, mem, domain.AlgorithmSHA1)

	// Identity captured before the file grew
	id, _ := filesystem.NewManager(mem).Identity("/a")
	afero.WriteFile(mem, "/a", []byte("hello again"), 0644)

	_, err := c.HashIdentity(ctx, id)
	if !errors.Is(err, ErrChangedDuringHash) || !domain.IsFileError(err) {
		t.Fatalf("HashIdentity() error = %v, want ErrChangedDuringHash", err)
	}
	if cache.stores != 0 {
		t.Error("a digest of changing content must not be cached")
	}
}

func TestComputer_Errors(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/a", []byte("x"), 0644)

	t.Run("missing file is a file error", func(t *testing.T) {
		c := newTestComputer(t, newMemCache(), mem, domain.AlgorithmSHA256)
		_, err := c.Hash(ctx, "/missing")
		if !domain.IsFileError(err) || !errors.Is(err, domain.ErrIOFailure) {
			t.Errorf("Hash() error = %v, want I/O failure", err)
		}
	})

	t.Run("cache lookup failure", func(t *testing.T) {
		cache := newMemCache()
		cache.lookupErr = fmt.Errorf("%w: disk gone", domain.ErrCacheUnavailable)
		c := newTestComputer(t, cache, mem, domain.AlgorithmSHA256)
		_, err := c.Hash(ctx, "/a")
		if !errors.Is(err, domain.ErrCacheUnavailable) || domain.IsFileError(err) {
			t.Errorf("Hash() error = %v, want ErrCacheUnavailable", err)
		}
	})

	t.Run("cache store failure", func(t *testing.T) {
		cache := newMemCache()
		cache.storeErr = domain.NewRetryableError(domain.ErrCacheUnavailable, 0)
		c := newTestComputer(t, cache, mem, domain.AlgorithmSHA256)
		_, err := c.Hash(ctx, "/a")
		if !domain.IsRetryable(err) {
			t.Errorf("Hash() error = %v, want retryable", err)
		}
	})
}

func TestComputer_Concurrent(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	for i := 0; i < 20; i++ {
		afero.WriteFile(mem, fmt.Sprintf("/f%02d", i), []byte(fmt.Sprintf("content-%d", i%5)), 0644)
	}
	c := newTestComputer(t, newMemCache(), mem, domain.AlgorithmBLAKE3)

	var wg sync.WaitGroup
	digests := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Hash(ctx, fmt.Sprintf("/f%02d", i))
			if err != nil {
				t.Errorf("Hash() error = %v", err)
				return
			}
			digests[i] = res.Hash
		}(i)
	}
	wg.Wait()

	for i := 5; i < 20; i++ {
		if digests[i] != digests[i%5] {
			t.Errorf("file %d digest differs from identical file %d", i, i%5)
		}
	}
	if c.Stats().FilesOpened != 20 {
		t.Errorf("files opened = %d, want 20", c.Stats().FilesOpened)
	}
}

func TestComputer_QuickHashReadsPrefix(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/a", []byte("same-prefix-then-A"), 0644)
	afero.WriteFile(mem, "/b", []byte("same-prefix-then-B"), 0644)
	afero.WriteFile(mem, "/tiny", []byte("abc"), 0644)
	cache := newMemCache()
	c := newTestComputer(t, cache, mem, domain.AlgorithmSHA256)
	fs := filesystem.NewManager(mem)

	idA, _ := fs.Identity("/a")
	idB, _ := fs.Identity("/b")
	qa, err := c.QuickHashIdentity(ctx, idA, 11)
	if err != nil {
		t.Fatalf("QuickHashIdentity() error = %v", err)
	}
	qb, _ := c.QuickHashIdentity(ctx, idB, 11)
	if qa.Hash != qb.Hash {
		t.Error("equal prefixes should share a quick digest")
	}
	want, _, _ := DigestReader(strings.NewReader("same-prefix"), domain.AlgorithmSHA256, MinChunkSize)
	if qa.Hash != want {
		t.Errorf("quick digest = %s, want digest of the prefix", qa.Hash)
	}

	full, _ := c.HashIdentity(ctx, idA)
	if full.CacheHit || full.Hash == qa.Hash {
		t.Errorf("full digest %+v must not come from the quick entry", full)
	}

	again, _ := c.QuickHashIdentity(ctx, idA, 11)
	if !again.CacheHit || again.Hash != qa.Hash {
		t.Errorf("second quick digest = %+v, want cache hit", again)
	}

	// A prefix longer than the file covers all of it
	idTiny, _ := fs.Identity("/tiny")
	qt, err := c.QuickHashIdentity(ctx, idTiny, 11)
	if err != nil {
		t.Fatalf("QuickHashIdentity(tiny) error = %v", err)
	}
	ft, _ := c.HashIdentity(ctx, idTiny)
	if qt.Hash != ft.Hash {
		t.Error("quick digest of a short file should equal its full digest")
	}

	stats := c.Stats()
	if stats.QuickHits != 1 || stats.QuickMisses != 3 {
		t.Errorf("quick stats = %+v", stats)
	}
	if stats.BytesRead != 11+11+18+3+3 {
		t.Errorf("bytes read = %d", stats.BytesRead)
	}
	if _, ok := cache.entries[cache.key("/a", domain.QuickAlgorithm(domain.AlgorithmSHA256, 11))]; !ok {
		t.Error("quick digest should be cached under its own key")
	}
}

func TestComputer_QuickHashErrors(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/a", []byte("hello"), 0644)
	cache := newMemCache()
	c := newTestComputer(t, cache, mem, domain.AlgorithmXXHash)

	id, _ := filesystem.NewManager(mem).Identity("/a")
	if _, err := c.QuickHashIdentity(ctx, id, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero length error = %v, want ErrInvalidInput", err)
	}

	afero.WriteFile(mem, "/a", []byte("hello, changed"), 0644)
	if _, err := c.QuickHashIdentity(ctx, id, 2); !errors.Is(err, ErrChangedDuringHash) {
		t.Errorf("stale identity error = %v, want ErrChangedDuringHash", err)
	}
	if cache.stores != 0 {
		t.Error("a prefix of changing content must not be cached")
	}
}

func TestComputer_LookupDoesNotRead(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/a", []byte("hello"), 0644)
	c := newTestComputer(t, newMemCache(), mem, domain.AlgorithmSHA256)
	id, _ := filesystem.NewManager(mem).Identity("/a")

	if res, hit, err := c.Lookup(ctx, id); err != nil || hit || res != nil {
		t.Fatalf("Lookup() on cold cache = %+v, %v, %v", res, hit, err)
	}
	computed, err := c.ComputeIdentity(ctx, id)
	if err != nil {
		t.Fatalf("ComputeIdentity() error = %v", err)
	}
	res, hit, _ := c.Lookup(ctx, id)
	if !hit || res.Hash != computed.Hash {
		t.Errorf("Lookup() after compute = %+v, %v", res, hit)
	}
	if stats := c.Stats(); stats.FilesOpened != 1 || stats.CacheMisses != 1 || stats.CacheHits != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
