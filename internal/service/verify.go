// Package service contains the business logic layer: the verification
// engine, the Telegram code issuer, the progress aggregator and the OAuth
// linking flow. Services accept primitives and domain structs, never HTTP
// types, and return domain errors for the handler layer to translate.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/auth"
	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/platform"
	"github.com/dropforge/socialverify/internal/repository"
)

// Emitter is the event-publishing capability the services need. Satisfied by
// event.Broadcaster; tests substitute a recording fake.
type Emitter interface {
	Emit(ctx context.Context, ev *model.VerificationEvent) error

	// EmitOnce emits only if the (user, raffle) pair has no event of this
	// type yet, atomically at the store. Reports whether it emitted.
	EmitOnce(ctx context.Context, ev *model.VerificationEvent) (bool, error)
}

// taskAliases maps every accepted spelling of a task to its canonical form.
// Normalization happens before anything touches the store, so the
// (user, raffle, task) key is identical whichever alias the client sent.
var taskAliases = map[string]model.TaskType{
	"follow":          model.TaskFollow,
	"twitter_follow":  model.TaskFollow,
	"retweet":         model.TaskRetweet,
	"twitter_retweet": model.TaskRetweet,
	"join":            model.TaskJoinGroup,
	"join_group":      model.TaskJoinGroup,
	"telegram_join":   model.TaskJoinGroup,
	"join_server":     model.TaskJoinServer,
	"join_guild":      model.TaskJoinServer,
	"discord_join":    model.TaskJoinServer,
}

// taskPlatforms: each canonical task belongs to exactly one platform.
var taskPlatforms = map[model.TaskType]model.Platform{
	model.TaskFollow:     model.PlatformTwitter,
	model.TaskRetweet:    model.PlatformTwitter,
	model.TaskJoinGroup:  model.PlatformTelegram,
	model.TaskJoinServer: model.PlatformDiscord,
}

// NormalizeTaskType resolves an inbound task spelling to its canonical form.
func NormalizeTaskType(raw string) (model.TaskType, error) {
	task, ok := taskAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", apperror.ValidationFailed("task_type",
			fmt.Sprintf("unknown task type %q", raw))
	}
	return task, nil
}

var (
	tmeLinkRe  = regexp.MustCompile(`(?:https?://)?t\.me/([a-zA-Z0-9_]+)`)
	tweetURLRe = regexp.MustCompile(`/status(?:es)?/(\d+)`)
	numericRe  = regexp.MustCompile(`^-?\d+$`)
	bareNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// TaskData is the caller-supplied locator for the task's target. Either field
// may carry it; chat_id wins when both are present.
type TaskData struct {
	ChatID string `json:"chat_id,omitempty"`
	Target string `json:"target,omitempty"`
}

// ResolveTarget normalizes task_data into the identifier the platform
// adapter expects: "@name" or a numeric chat id for Telegram, a tweet id for
// retweets, a handle or user id for follows, a guild id for Discord.
func ResolveTarget(task model.TaskType, data TaskData) (string, error) {
	raw := strings.TrimSpace(data.ChatID)
	if raw == "" {
		raw = strings.TrimSpace(data.Target)
	}
	if raw == "" {
		return "", apperror.ValidationFailed("task_data",
			"no target could be derived from task_data")
	}

	switch task {
	case model.TaskJoinGroup:
		if m := tmeLinkRe.FindStringSubmatch(raw); m != nil {
			return "@" + m[1], nil
		}
		if strings.HasPrefix(raw, "@") || numericRe.MatchString(raw) {
			return raw, nil
		}
		if bareNameRe.MatchString(raw) {
			return "@" + raw, nil
		}
		return "", apperror.ValidationFailed("task_data",
			fmt.Sprintf("cannot derive a chat identifier from %q", raw))

	case model.TaskRetweet:
		if m := tweetURLRe.FindStringSubmatch(raw); m != nil {
			return m[1], nil
		}
		if numericRe.MatchString(raw) {
			return raw, nil
		}
		return "", apperror.ValidationFailed("task_data",
			fmt.Sprintf("cannot derive a tweet id from %q", raw))

	default:
		// follow: handle or user id; join_server: guild id. Pass through.
		return raw, nil
	}
}

// VerifyRequest is the engine's input, one task check for one user.
type VerifyRequest struct {
	UserAddress string
	RaffleID    string
	TaskType    string
	TaskData    TaskData
	ChainID     int64
}

// VerifyResult is what the handler turns into the response body.
type VerifyResult struct {
	Success             bool
	Platform            model.Platform
	TaskType            model.TaskType
	VerificationDetails string
	Record              *model.VerificationRecord
	Timestamp           time.Time
}

// VerificationService is the task verification engine: it normalizes the
// request, runs the platform check, records the durable outcome and emits
// events after the write commits.
type VerificationService struct {
	repo      repository.Store
	emitter   Emitter
	verifiers map[model.Platform]platform.TaskVerifier
	logger    *slog.Logger
}

func NewVerificationService(repo repository.Store, emitter Emitter, verifiers []platform.TaskVerifier, logger *slog.Logger) *VerificationService {
	byPlatform := make(map[model.Platform]platform.TaskVerifier, len(verifiers))
	for _, v := range verifiers {
		byPlatform[v.Platform()] = v
	}
	return &VerificationService{
		repo:      repo,
		emitter:   emitter,
		verifiers: byPlatform,
		logger:    logger,
	}
}

// Verify runs one task check end to end.
//
// A negative platform answer writes status=failed explicitly — downstream
// all_completed logic needs the record to say what actually happened, not
// what happened last time. An upstream failure is also a failed outcome, not
// a 5xx: the check ran and could not confirm the task. Configuration and
// validation problems abort before any store write.
func (s *VerificationService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	wallet, err := auth.NormalizeAddress(req.UserAddress)
	if err != nil {
		return nil, err
	}
	raffleID := strings.TrimSpace(req.RaffleID)
	if raffleID == "" {
		return nil, apperror.ValidationFailed("raffle_id", "raffle_id is required")
	}

	task, err := NormalizeTaskType(req.TaskType)
	if err != nil {
		return nil, err
	}
	plat := taskPlatforms[task]

	verifier, ok := s.verifiers[plat]
	if !ok {
		return nil, apperror.Configuration(string(plat) + " adapter")
	}

	acct, err := s.repo.GetAccount(ctx, wallet, plat)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotLinked(string(plat))
		}
		return nil, fmt.Errorf("loading %s account: %w", plat, err)
	}

	target, err := ResolveTarget(task, req.TaskData)
	if err != nil {
		return nil, err
	}

	passed, checkErr := verifier.VerifyTask(ctx, task, target, acct)
	if checkErr != nil {
		// The adapter could not run the check at all.
		if errors.Is(checkErr, apperror.ErrConfiguration) || errors.Is(checkErr, apperror.ErrValidation) {
			return nil, checkErr
		}
		// Upstream trouble (non-2xx, timeout) is a verification failure.
		s.logger.Warn("platform check failed",
			slog.String("platform", string(plat)),
			slog.String("task", string(task)),
			slog.String("user", wallet),
			slog.String("error", checkErr.Error()),
		)
		passed = false
	}

	status := model.StatusFailed
	if passed {
		status = model.StatusCompleted
	}
	details := encodeDetails(target, req.ChainID, passed, checkErr)

	rec := &model.VerificationRecord{
		UserID:              wallet,
		RaffleID:            raffleID,
		TaskType:            task,
		Platform:            plat,
		Status:              status,
		VerificationDetails: details,
	}
	firstCompletion, err := s.repo.UpsertVerification(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("recording verification: %w", err)
	}

	s.logger.Info("task verified",
		slog.String("user", wallet),
		slog.String("raffle", raffleID),
		slog.String("task", string(task)),
		slog.Bool("success", passed),
	)

	if firstCompletion {
		if err := s.emitter.Emit(ctx, &model.VerificationEvent{
			UserID:    wallet,
			RaffleID:  raffleID,
			EventType: model.EventTaskCompleted,
			TaskType:  task,
			Metadata:  details,
		}); err != nil {
			return nil, fmt.Errorf("publishing task completion: %w", err)
		}

		if err := s.maybeEmitAllCompleted(ctx, wallet, raffleID); err != nil {
			return nil, err
		}
	}

	return &VerifyResult{
		Success:             passed,
		Platform:            plat,
		TaskType:            task,
		VerificationDetails: details,
		Record:              rec,
		Timestamp:           rec.UpdatedAt,
	}, nil
}

// maybeEmitAllCompleted recomputes the snapshot and emits all_completed the
// first time the pair reaches it. HasEvent is only an early exit that skips
// the recompute on already-finished raffles; the once-only decision belongs
// to EmitOnce, which is atomic at the store — two completions racing to
// finish the same raffle cannot both emit.
func (s *VerificationService) maybeEmitAllCompleted(ctx context.Context, wallet, raffleID string) error {
	already, err := s.repo.HasEvent(ctx, wallet, raffleID, model.EventAllCompleted)
	if err != nil {
		return fmt.Errorf("checking all_completed guard: %w", err)
	}
	if already {
		return nil
	}

	records, err := s.repo.ListVerifications(ctx, wallet, raffleID)
	if err != nil {
		return fmt.Errorf("recomputing progress: %w", err)
	}
	snap := model.ComputeProgress(records)
	if !snap.AllCompleted {
		return nil
	}

	meta, _ := json.Marshal(map[string]int{"total_tasks": snap.TotalTasks})
	emitted, err := s.emitter.EmitOnce(ctx, &model.VerificationEvent{
		UserID:    wallet,
		RaffleID:  raffleID,
		EventType: model.EventAllCompleted,
		Metadata:  string(meta),
	})
	if err != nil {
		return fmt.Errorf("publishing all_completed: %w", err)
	}
	if !emitted {
		return nil
	}

	s.logger.Info("all tasks completed",
		slog.String("user", wallet),
		slog.String("raffle", raffleID),
		slog.Int("total_tasks", snap.TotalTasks),
	)
	return nil
}

// encodeDetails builds the verification_details JSON stored with the record.
// It carries the resolved target and, on failure, a credential-free reason.
func encodeDetails(target string, chainID int64, passed bool, checkErr error) string {
	payload := map[string]any{
		"target": target,
		"result": passed,
	}
	if chainID != 0 {
		payload["chain_id"] = chainID
	}
	if checkErr != nil {
		payload["reason"] = "platform check did not complete"
	} else if !passed {
		payload["reason"] = "platform reported task not performed"
	}
	out, _ := json.Marshal(payload)
	return string(out)
}
