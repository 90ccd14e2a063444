package model

// ProgressSnapshot is the derived, point-in-time completion summary for a
// (user, raffle) pair. It is computed from the verification records on every
// read and never stored — recomputing is side-effect free and always agrees
// with the store.
type ProgressSnapshot struct {
	TotalTasks         int                  `json:"total_tasks"`
	CompletedTasks     int                  `json:"completed_tasks"`
	PendingTasks       int                  `json:"pending_tasks"`
	ProgressPercentage int                  `json:"progress_percentage"`
	AllCompleted       bool                 `json:"all_completed"`
	Tasks              []VerificationRecord `json:"tasks"`
}

// ComputeProgress folds a set of verification records into a snapshot.
//
// Percentage is floor(100*completed/total), 0 when there are no records.
// AllCompleted requires at least one record: an empty raffle is never
// "all completed", so downstream reward logic can't fire on a user who
// simply hasn't started.
func ComputeProgress(records []VerificationRecord) ProgressSnapshot {
	snap := ProgressSnapshot{
		TotalTasks: len(records),
		Tasks:      records,
	}
	if snap.Tasks == nil {
		snap.Tasks = []VerificationRecord{}
	}

	for _, rec := range records {
		if rec.Status == StatusCompleted {
			snap.CompletedTasks++
		}
	}
	snap.PendingTasks = snap.TotalTasks - snap.CompletedTasks

	if snap.TotalTasks > 0 {
		snap.ProgressPercentage = 100 * snap.CompletedTasks / snap.TotalTasks
		snap.AllCompleted = snap.PendingTasks == 0
	}

	return snap
}
