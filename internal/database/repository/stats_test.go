package repository_test

import (
	"context"
	"testing"

	"github.com/artur/dispatch-bot/internal/database/repository"
)

func TestStatsRepository_RecordStep(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	ctx := context.Background()

	user := createUser(t, userRepo, 12345)

	if err := statsRepo.RecordStep(ctx, user.ID, "collect_phone", "advanced"); err != nil {
		t.Fatalf("Failed to record step: %v", err)
	}

	count, err := statsRepo.GetStepCount(ctx, user.ID)
	if err != nil {
		t.Fatalf("Failed to get count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected count 1, got %d", count)
	}
}

func TestStatsRepository_RecordStep_UnknownUser(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	statsRepo := repository.NewStatsRepository(db)

	if err := statsRepo.RecordStep(context.Background(), 999, "collect_phone", "advanced"); err == nil {
		t.Error("Expected foreign key violation")
	}
}

func TestStatsRepository_GetTotalSteps(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	ctx := context.Background()

	user1 := createUser(t, userRepo, 1)
	user2 := createUser(t, userRepo, 2)

	statsRepo.RecordStep(ctx, user1.ID, "collect_phone", "started")
	statsRepo.RecordStep(ctx, user1.ID, "collect_phone", "advanced")
	statsRepo.RecordStep(ctx, user2.ID, "role_pick_role", "unauthorized")

	total, err := statsRepo.GetTotalSteps(ctx)
	if err != nil {
		t.Fatalf("Failed to get total: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected total 3, got %d", total)
	}

	count, _ := statsRepo.GetStepCount(ctx, user1.ID)
	if count != 2 {
		t.Errorf("Expected 2 steps for user1, got %d", count)
	}
}

func TestStatsRepository_GetPopularSteps(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	ctx := context.Background()

	user := createUser(t, userRepo, 1)

	steps := []string{
		"collect_phone", "collect_phone", "collect_phone",
		"collect_name", "collect_name",
		"choose_language", "choose_language",
		"dispatch_confirm",
	}
	for _, step := range steps {
		statsRepo.RecordStep(ctx, user.ID, step, "advanced")
	}

	popular, err := statsRepo.GetPopularSteps(ctx, 3)
	if err != nil {
		t.Fatalf("Failed to get popular steps: %v", err)
	}

	if len(popular) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(popular))
	}

	want := []repository.StepCount{
		{Step: "collect_phone", Count: 3},
		{Step: "choose_language", Count: 2},
		{Step: "collect_name", Count: 2},
	}
	for i, w := range want {
		if popular[i] != w {
			t.Errorf("Position %d: expected %+v, got %+v", i, w, popular[i])
		}
	}
}
