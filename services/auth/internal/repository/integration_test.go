package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against real services and are skipped unless
// TEST_DATABASE_URL / TEST_REDIS_URL point at disposable instances.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func uniqueEmail() string {
	return uuid.NewString()[:8] + "@example.com"
}

func TestPostgres_FindOrCreateByEmail(t *testing.T) {
	pool := testPool(t)
	repo := NewMemberRepository(pool)
	ctx := context.Background()
	email := uniqueEmail()

	m, created, err := repo.FindOrCreateByEmail(ctx, email)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, m.IsActive)
	assert.Empty(t, m.FirstName)

	again, created, err := repo.FindOrCreateByEmail(ctx, email)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m.ID, again.ID)
}

func TestPostgres_ClaimExactlyOnce(t *testing.T) {
	pool := testPool(t)
	members := NewMemberRepository(pool)
	tokens := NewTokenRepository(pool)
	ctx := context.Background()

	m, _, err := members.FindOrCreateByEmail(ctx, uniqueEmail())
	require.NoError(t, err)
	tok := uuid.NewString()
	require.NoError(t, tokens.Create(ctx, &domain.MagicLinkToken{
		Token: tok, MemberID: m.ID, Purpose: "AUTH", ExpiresAt: time.Now().Add(15 * time.Minute),
	}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := tokens.Claim(ctx, tok)
			if err == nil {
				assert.Equal(t, m.ID, id)
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrTokenNotFound)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}

func TestPostgres_ClaimExpired(t *testing.T) {
	pool := testPool(t)
	members := NewMemberRepository(pool)
	tokens := NewTokenRepository(pool)
	ctx := context.Background()

	m, _, err := members.FindOrCreateByEmail(ctx, uniqueEmail())
	require.NoError(t, err)
	tok := uuid.NewString()
	require.NoError(t, tokens.Create(ctx, &domain.MagicLinkToken{
		Token: tok, MemberID: m.ID, Purpose: "AUTH", ExpiresAt: time.Now().Add(-time.Second),
	}))

	_, err = tokens.Claim(ctx, tok)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestPostgres_Memberships(t *testing.T) {
	pool := testPool(t)
	repo := NewMemberRepository(pool)
	ctx := context.Background()

	orgID, c1, c2 := uuid.NewString(), uuid.NewString(), uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, 'Org')`, orgID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO communities (id, name, slug, organization_id) VALUES ($1, 'One', $1, $2), ($3, 'Two', $3, NULL)`, c1, orgID, c2)
	require.NoError(t, err)

	m, _, err := repo.FindOrCreateByEmail(ctx, uniqueEmail())
	require.NoError(t, err)

	first, err := repo.JoinCommunity(ctx, m.ID, c1)
	require.NoError(t, err)
	assert.True(t, first.IsPrimary)
	assert.Equal(t, access.RoleUser, first.Role)
	require.NotNil(t, first.Community.Organization)
	assert.Equal(t, "Org", first.Community.Organization.Name)

	_, err = repo.JoinCommunity(ctx, m.ID, c1)
	assert.ErrorIs(t, err, domain.ErrConflict)

	second, err := repo.JoinCommunity(ctx, m.ID, c2)
	require.NoError(t, err)
	assert.False(t, second.IsPrimary)

	require.NoError(t, repo.SetPrimaryMembership(ctx, m.ID, second.ID))
	loaded, err := repo.FindByID(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Memberships, 2)
	assert.Equal(t, second.ID, loaded.Memberships[0].ID)

	none := access.RoleNone
	lapsed := access.StatusLapsed
	updated, err := repo.UpdateMembership(ctx, first.ID, &lapsed, &none)
	require.NoError(t, err)
	assert.Equal(t, access.StatusLapsed, updated.Status)
	assert.Equal(t, access.RoleNone, updated.Role)

	listed, err := repo.ListByCommunity(ctx, c2)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, m.ID, listed[0].ID)
}

func TestPostgres_ConcurrentFirstJoins(t *testing.T) {
	pool := testPool(t)
	repo := NewMemberRepository(pool)
	ctx := context.Background()

	const n = 4
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, uuid.NewString())
	}
	for _, id := range ids {
		_, err := pool.Exec(ctx, `INSERT INTO communities (id, name, slug) VALUES ($1, 'C', $1)`, id)
		require.NoError(t, err)
	}
	m, _, err := repo.FindOrCreateByEmail(ctx, uniqueEmail())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, communityID string) {
			defer wg.Done()
			_, errs[i] = repo.JoinCommunity(ctx, m.ID, communityID)
		}(i, id)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	loaded, err := repo.FindByID(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Memberships, n)
	primaries := 0
	for _, ms := range loaded.Memberships {
		if ms.IsPrimary {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries)
}

func TestPostgres_UnknownRoleIsAnError(t *testing.T) {
	pool := testPool(t)
	repo := NewMemberRepository(pool)
	ctx := context.Background()

	c := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO communities (id, name, slug) VALUES ($1, 'X', $1)`, c)
	require.NoError(t, err)
	m, _, err := repo.FindOrCreateByEmail(ctx, uniqueEmail())
	require.NoError(t, err)
	ms, err := repo.JoinCommunity(ctx, m.ID, c)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE community_memberships SET role = 'OWNER' WHERE id = $1`, ms.ID)
	require.NoError(t, err)

	_, err = repo.FindByID(ctx, m.ID)
	assert.ErrorIs(t, err, access.ErrUnknownRole)
}

func TestRedis_Allow(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	limiter := NewRateLimitRepository(client)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, fmt.Sprintf("ratelimit:%x", sha256.Sum256([]byte(key)))).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedis_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	ok, err := NewRateLimitRepository(client).Allow(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
