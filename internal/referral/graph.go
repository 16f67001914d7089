// Package referral maintains the forest formed by users and the users who
// invited them. Users refer to their inviter by id only.
package referral

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/artur/dispatch-bot/internal/database/models"
)

var (
	ErrSelfReference  = errors.New("user cannot refer themselves")
	ErrAlreadySet     = errors.New("referer already set")
	ErrCycleDetected  = errors.New("referral cycle detected")
	ErrUnknownReferer = errors.New("referer not found")
)

// DefaultMaxDepth bounds chain walks when no depth is configured.
const DefaultMaxDepth = 32

// Store is the read side of the identity store the graph needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// Graph validates and queries referer links.
type Graph struct {
	store    Store
	maxDepth int
}

func New(store Store, maxDepth int) *Graph {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Graph{store: store, maxDepth: maxDepth}
}

// SetReferer checks that candidateID may become user's referer and sets it on
// user. Persisting user is left to the caller so the link can be committed
// together with other changes.
func (g *Graph) SetReferer(ctx context.Context, user *models.User, candidateID int64) error {
	if candidateID == user.ID {
		return ErrSelfReference
	}
	if user.HasReferer() {
		return ErrAlreadySet
	}

	candidate, err := g.store.GetByID(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("load referer %d: %w", candidateID, err)
	}
	if candidate == nil || !candidate.Active() {
		return fmt.Errorf("%w: %d", ErrUnknownReferer, candidateID)
	}

	if candidate.RefererID != 0 {
		reached, err := g.reaches(ctx, candidate, user.ID)
		if err != nil {
			return err
		}
		if reached {
			return fmt.Errorf("%w: %d -> %d", ErrCycleDetected, user.ID, candidateID)
		}
	}

	user.RefererID = candidate.ID
	return nil
}

// reaches walks from start towards the root and reports whether target is on
// the way. A chain still going after maxDepth ancestors counts as reaching it.
func (g *Graph) reaches(ctx context.Context, start *models.User, target int64) (bool, error) {
	var last *models.User
	n := 0
	for u, err := range g.Chain(ctx, start, g.maxDepth) {
		if err != nil {
			return false, err
		}
		if u.ID == target {
			return true, nil
		}
		last = u
		n++
	}
	return n == g.maxDepth && last.RefererID != 0, nil
}

// Chain yields the ancestors of user, nearest first, stopping after maxDepth
// users, at the root, or at the first repeated id.
func (g *Graph) Chain(ctx context.Context, user *models.User, maxDepth int) iter.Seq2[*models.User, error] {
	if maxDepth <= 0 {
		maxDepth = g.maxDepth
	}
	return func(yield func(*models.User, error) bool) {
		seen := map[int64]bool{user.ID: true}
		next := user.RefererID
		for depth := 0; depth < maxDepth && next != 0; depth++ {
			if seen[next] {
				return
			}
			seen[next] = true

			parent, err := g.store.GetByID(ctx, next)
			if err != nil {
				yield(nil, fmt.Errorf("load ancestor %d: %w", next, err))
				return
			}
			if parent == nil {
				return
			}
			if !yield(parent, nil) {
				return
			}
			next = parent.RefererID
		}
	}
}
