package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/pms/internal/cache"
)

type view struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// CacheContractSuite runs the same behaviour checks against every Cache implementation.
type CacheContractSuite struct {
	suite.Suite
	newCache func() cache.Cache
	redis    *miniredis.Miniredis
	c        cache.Cache
}

func (s *CacheContractSuite) SetupTest() {
	s.c = s.newCache()
}

func (s *CacheContractSuite) TearDownTest() {
	if s.redis != nil {
		s.redis.FlushAll()
	}
}

func TestMemoryCacheSuite(t *testing.T) {
	suite.Run(t, &CacheContractSuite{newCache: func() cache.Cache { return cache.NewMemory() }})
}

func TestRedisCacheSuite(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := cache.NewRedisPool("redis://" + mr.Addr())
	t.Cleanup(func() { pool.Close() })

	suite.Run(t, &CacheContractSuite{
		redis:    mr,
		newCache: func() cache.Cache { return cache.NewRedis(pool, "pms-test") },
	})
}

// TestLoad_SecondCallHitsCache tests that an identical lookup does not call the loader again.
func (s *CacheContractSuite) TestLoad_SecondCallHitsCache() {
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) ([]view, error) {
		calls++
		return []view{{ID: "1", Title: "T1 task title"}}, nil
	}

	first, err := cache.Load(ctx, s.c, cache.NamespaceTasks, "findAll:null", 0, loader)
	s.Require().NoError(err)
	second, err := cache.Load(ctx, s.c, cache.NamespaceTasks, "findAll:null", 0, loader)
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(1, calls)
}

// TestEvictNamespace_ForcesReload tests that eviction makes the next lookup miss.
func (s *CacheContractSuite) TestEvictNamespace_ForcesReload() {
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := cache.Load(ctx, s.c, cache.NamespaceTasks, "count", time.Minute, loader)
	s.Require().NoError(err)
	s.Equal(1, v)

	s.Require().NoError(s.c.EvictNamespace(ctx, cache.NamespaceTasks))

	v, err = cache.Load(ctx, s.c, cache.NamespaceTasks, "count", time.Minute, loader)
	s.Require().NoError(err)
	s.Equal(2, v)
}

// TestEvictNamespace_LeavesOtherNamespaces tests that eviction is scoped to one namespace.
func (s *CacheContractSuite) TestEvictNamespace_LeavesOtherNamespaces() {
	ctx := context.Background()
	gen, err := s.c.Generation(ctx, cache.NamespaceProjects)
	s.Require().NoError(err)
	s.Require().NoError(s.c.Set(ctx, cache.NamespaceProjects, gen, "count", []byte("3"), 0))

	s.Require().NoError(s.c.EvictNamespace(ctx, cache.NamespaceTasks))

	got, ok, err := s.c.Get(ctx, cache.NamespaceProjects, gen, "count")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]byte("3"), got)
}

// TestSet_StaleGenerationIsInvisible tests that a value loaded before an eviction
// cannot be read after it.
func (s *CacheContractSuite) TestSet_StaleGenerationIsInvisible() {
	ctx := context.Background()
	staleGen, err := s.c.Generation(ctx, cache.NamespaceTasks)
	s.Require().NoError(err)

	s.Require().NoError(s.c.EvictNamespace(ctx, cache.NamespaceTasks))
	s.Require().NoError(s.c.Set(ctx, cache.NamespaceTasks, staleGen, "k", []byte(`"stale"`), 0))

	gen, err := s.c.Generation(ctx, cache.NamespaceTasks)
	s.Require().NoError(err)
	s.NotEqual(staleGen, gen)

	_, ok, err := s.c.Get(ctx, cache.NamespaceTasks, gen, "k")
	s.Require().NoError(err)
	s.False(ok)
}

// TestLoad_LoaderErrorNotCached tests that failures are returned and not stored.
func (s *CacheContractSuite) TestLoad_LoaderErrorNotCached() {
	ctx := context.Background()
	boom := errors.New("store down")

	_, err := cache.Load(ctx, s.c, cache.NamespaceTasks, "k", 0, func(context.Context) (int, error) {
		return 0, boom
	})
	s.ErrorIs(err, boom)

	v, err := cache.Load(ctx, s.c, cache.NamespaceTasks, "k", 0, func(context.Context) (int, error) {
		return 7, nil
	})
	s.Require().NoError(err)
	s.Equal(7, v)
}

// TestRedisTTL_Expires tests that entries with a TTL disappear once it elapses.
func TestRedisTTL_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := cache.NewRedisPool("redis://" + mr.Addr())
	defer pool.Close()
	c := cache.NewRedis(pool, "pms-test")
	ctx := context.Background()

	if err := c.Set(ctx, cache.NamespaceTasks, 0, "k", []byte("1"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, ok, err := c.Get(ctx, cache.NamespaceTasks, 0, "k"); err != nil || ok {
		t.Fatalf("expected expired entry, ok=%v err=%v", ok, err)
	}
}

// TestRedisEvict_DeletesIndexedKeys tests that eviction removes stored data keys.
func TestRedisEvict_DeletesIndexedKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := cache.NewRedisPool("redis://" + mr.Addr())
	defer pool.Close()
	c := cache.NewRedis(pool, "pms-test")
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, cache.NamespaceTasks, 0, k, []byte("1"), 0); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := c.EvictNamespace(ctx, cache.NamespaceTasks); err != nil {
		t.Fatalf("evict: %v", err)
	}

	if mr.Exists("pms-test:tasks:0:a") || mr.Exists("pms-test:tasks:keys") {
		t.Fatal("expected data keys and index to be deleted")
	}
	if got, _ := mr.Get("pms-test:tasks:gen"); got != "1" {
		t.Fatalf("expected generation 1, got %q", got)
	}
}
