package orchestrator

import (
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/task"
)

// buildReflection synthesizes the post-session metrics record (spec §4.4
// step 8, glossary "Reflection") from a completed round's task snapshots and
// the agents that ran them.
func buildReflection(status hvstate.SessionStatus, startedAt time.Time, snaps []task.Snapshot, agents []*agentmgr.Agent, costSummary protocol.CostSummary) hvstate.Reflection {
	var successCount, failCount, totalRetries, escalated int
	for _, s := range snaps {
		switch s.Status {
		case task.StatusSuccess:
			successCount++
		case task.StatusBlocked:
			failCount++
		}
		totalRetries += s.Retries
		if s.Retries > 0 {
			escalated++
		}
	}

	tierUsage := make(map[string]int, 4)
	for _, a := range agents {
		tierUsage[string(a.ModelTier)]++
	}

	var retryRate float64
	if len(snaps) > 0 {
		retryRate = float64(totalRetries) / float64(len(snaps))
	}

	return hvstate.Reflection{
		Status:         status,
		DurationMs:     time.Since(startedAt).Milliseconds(),
		TaskCount:      len(snaps),
		SuccessCount:   successCount,
		FailCount:      failCount,
		RetryRate:      retryRate,
		TierUsage:      tierUsage,
		EscalatedTasks: escalated,
		CostSummary:    costSummary,
	}
}
