package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/auth"
	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/repository"
)

// ProgressService produces completion snapshots. It owns no state — every
// snapshot is recomputed from the verification records on read.
type ProgressService struct {
	repo repository.VerificationRepository
}

func NewProgressService(repo repository.VerificationRepository) *ProgressService {
	return &ProgressService{repo: repo}
}

// Snapshot returns the current completion summary for the (user, raffle)
// pair. A user with no records gets an empty snapshot, not an error.
func (s *ProgressService) Snapshot(ctx context.Context, userAddress, raffleID string) (*model.ProgressSnapshot, error) {
	wallet, err := auth.NormalizeAddress(userAddress)
	if err != nil {
		return nil, err
	}
	raffleID = strings.TrimSpace(raffleID)
	if raffleID == "" {
		return nil, apperror.ValidationFailed("raffle_id", "raffle_id is required")
	}

	records, err := s.repo.ListVerifications(ctx, wallet, raffleID)
	if err != nil {
		return nil, fmt.Errorf("loading verification records: %w", err)
	}

	snap := model.ComputeProgress(records)
	return &snap, nil
}
