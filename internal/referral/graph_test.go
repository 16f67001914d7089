package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artur/dispatch-bot/internal/database/models"
)

type memStore struct {
	users map[int64]*models.User
	err   error
	reads int
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{users: make(map[int64]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id int64) (*models.User, error) {
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return u.Clone(), nil
}

func user(id, referer int64) *models.User {
	return &models.User{ID: id, ChatID: 1000 + id, RefererID: referer, Role: models.RoleUser, Status: models.StatusActive}
}

func TestSetReferer(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		users     []*models.User
		user      *models.User
		candidate int64
		wantErr   error
		wantRef   int64
	}{
		{
			name:      "links to existing user",
			users:     []*models.User{user(1, 0)},
			user:      user(2, 0),
			candidate: 1,
			wantRef:   1,
		},
		{
			name:      "rejects self reference",
			users:     []*models.User{user(1, 0)},
			user:      user(1, 0),
			candidate: 1,
			wantErr:   ErrSelfReference,
		},
		{
			name:      "rejects second referer",
			users:     []*models.User{user(1, 0), user(3, 0)},
			user:      user(2, 3),
			candidate: 1,
			wantErr:   ErrAlreadySet,
			wantRef:   3,
		},
		{
			name:      "rejects unknown referer",
			users:     []*models.User{user(1, 0)},
			user:      user(2, 0),
			candidate: 42,
			wantErr:   ErrUnknownReferer,
		},
		{
			name: "rejects inactive referer",
			users: []*models.User{
				{ID: 1, Status: models.StatusInactive, Role: models.RoleUser},
			},
			user:      user(2, 0),
			candidate: 1,
			wantErr:   ErrUnknownReferer,
		},
		{
			name:      "rejects direct cycle",
			users:     []*models.User{user(1, 0), user(2, 1)},
			user:      user(1, 0),
			candidate: 2,
			wantErr:   ErrCycleDetected,
		},
		{
			name:      "rejects long cycle",
			users:     []*models.User{user(1, 0), user(2, 1), user(3, 2), user(4, 3)},
			user:      user(1, 0),
			candidate: 4,
			wantErr:   ErrCycleDetected,
		},
		{
			name:      "allows joining a foreign chain",
			users:     []*models.User{user(1, 0), user(2, 1), user(3, 2)},
			user:      user(9, 0),
			candidate: 3,
			wantRef:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(newMemStore(tt.users...), 8)

			err := g.SetReferer(ctx, tt.user, tt.candidate)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantRef, tt.user.RefererID)
		})
	}
}

func TestSetReferer_TooDeepIsRejected(t *testing.T) {
	users := []*models.User{user(1, 0)}
	for id := int64(2); id <= 10; id++ {
		users = append(users, user(id, id-1))
	}
	g := New(newMemStore(users...), 3)

	u := user(99, 0)
	err := g.SetReferer(context.Background(), u, 10)
	require.ErrorIs(t, err, ErrCycleDetected)
	assert.Zero(t, u.RefererID)
}

func TestSetReferer_ExactDepthEndingAtRootIsAllowed(t *testing.T) {
	// 4 -> 3 -> 2 -> 1 (root): three ancestors with maxDepth 3
	g := New(newMemStore(user(1, 0), user(2, 1), user(3, 2), user(4, 3)), 3)

	u := user(99, 0)
	require.NoError(t, g.SetReferer(context.Background(), u, 4))
	assert.Equal(t, int64(4), u.RefererID)
}

func TestSetReferer_StoreError(t *testing.T) {
	store := newMemStore(user(1, 0))
	store.err = errors.New("disk on fire")
	g := New(store, 4)

	u := user(2, 0)
	err := g.SetReferer(context.Background(), u, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownReferer)
	assert.Zero(t, u.RefererID)
}

func TestChain(t *testing.T) {
	store := newMemStore(user(1, 0), user(2, 1), user(3, 2), user(4, 3))
	g := New(store, 10)

	var ids []int64
	for u, err := range g.Chain(context.Background(), user(5, 4), 0) {
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []int64{4, 3, 2, 1}, ids)
}

func TestChain_RespectsDepthAndIsLazy(t *testing.T) {
	store := newMemStore(user(1, 0), user(2, 1), user(3, 2), user(4, 3))
	g := New(store, 10)

	var ids []int64
	for u, err := range g.Chain(context.Background(), user(5, 4), 2) {
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []int64{4, 3}, ids)

	store.reads = 0
	for u := range g.Chain(context.Background(), user(5, 4), 0) {
		assert.Equal(t, int64(4), u.ID)
		break
	}
	assert.Equal(t, 1, store.reads)
}

func TestChain_StopsOnCorruptedCycle(t *testing.T) {
	store := newMemStore(user(1, 2), user(2, 1))
	g := New(store, 50)

	n := 0
	for _, err := range g.Chain(context.Background(), user(3, 1), 0) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 2, n)
}

func TestChain_TerminatesWithinUserCount(t *testing.T) {
	users := []*models.User{user(1, 0)}
	for id := int64(2); id <= 20; id++ {
		users = append(users, user(id, id-1))
	}
	g := New(newMemStore(users...), 100)

	for _, start := range users {
		n := 0
		for range g.Chain(context.Background(), start, 0) {
			n++
		}
		assert.LessOrEqual(t, n, len(users))
		assert.Equal(t, int(start.ID-1), n)
	}
}
