package models

import "time"

// MemorySource identifies which subsystem created a ReasoningMemory record.
type MemorySource string

const (
	MemorySourceWorker     MemorySource = "worker"
	MemorySourceRepairLoop MemorySource = "repair_loop"
	MemorySourceUser       MemorySource = "user_correction"
)

// MemoryCategory mirrors FailureCategory plus the user_correction category that has
// no corresponding worker failure (spec.md §3 "ReasoningMemory").
type MemoryCategory string

const (
	MemoryCategoryValidation    MemoryCategory = "validation_error"
	MemoryCategorySecurity      MemoryCategory = "security_violation"
	MemoryCategoryRuntime       MemoryCategory = "runtime_error"
	MemoryCategoryUserCorrection MemoryCategory = "user_correction"
)

// CompatibleCategories returns the set of memory categories RepairLoop should also
// retrieve for a given failure category, per spec.md §4.E step 3: "security_violation
// may include validation_error memories; runtime errors include user_correction
// memories for the same template family".
func CompatibleCategories(c MemoryCategory) []MemoryCategory {
	switch c {
	case MemoryCategorySecurity:
		return []MemoryCategory{MemoryCategorySecurity, MemoryCategoryValidation}
	case MemoryCategoryRuntime:
		return []MemoryCategory{MemoryCategoryRuntime, MemoryCategoryUserCorrection}
	default:
		return []MemoryCategory{c}
	}
}

// ReasoningMemory is an episodic record of a prior failure-and-fix, retrievable by
// semantic similarity and weighted by empirical success rate. See spec.md §3.
type ReasoningMemory struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    MemoryCategory `json:"category"`
	Source      MemorySource   `json:"source"`

	ContextEmbedding []float32 `json:"context_embedding,omitempty"`

	// PatchSketch is text the LLM can use verbatim or as guidance when repairing.
	PatchSketch string `json:"patch_sketch"`

	CreatedAt time.Time `json:"created_at"`

	TimesRetrieved     int `json:"times_retrieved"`
	TimesUsedInSuccess int `json:"times_used_in_success"`
	TimesUsedInFailure int `json:"times_used_in_failure"`
}

// SuccessRate computes timesUsedInSuccess / (timesUsedInSuccess + timesUsedInFailure),
// per spec.md §3's invariant. Returns (0, false) when the denominator is zero — callers
// that need a definite value (RepairLoop ranking) should treat an undefined rate as 0.5
// per spec.md §4.E step 4.
func (m *ReasoningMemory) SuccessRate() (float64, bool) {
	denom := m.TimesUsedInSuccess + m.TimesUsedInFailure
	if denom == 0 {
		return 0, false
	}
	return float64(m.TimesUsedInSuccess) / float64(denom), true
}

// RankScore implements spec.md §4.E step 4's ranking formula:
// 0.7 × cosineSimilarity + 0.3 × successRate (undefined successRate treated as 0.5).
func (m *ReasoningMemory) RankScore(cosineSimilarity float64) float64 {
	rate, ok := m.SuccessRate()
	if !ok {
		rate = 0.5
	}
	return 0.7*cosineSimilarity + 0.3*rate
}
