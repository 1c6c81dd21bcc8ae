package trail

import (
	"fmt"
	"time"
)

// BreakType categorizes a detected chain defect
type BreakType string

const (
	BreakHashMismatch     BreakType = "hash_mismatch"
	BreakLinkMismatch     BreakType = "link_mismatch"
	BreakPositionGap      BreakType = "position_gap"
	BreakGenesisViolation BreakType = "genesis_violation"
	BreakCorruptedEntry   BreakType = "corrupted_entry"
)

// ChainBreak pinpoints one defect found during verification
type ChainBreak struct {
	EntryID     string    `json:"entry_id"`
	Position    int64     `json:"position"`
	BreakType   BreakType `json:"break_type"`
	Description string    `json:"description"`
	Expected    string    `json:"expected,omitempty"`
	Actual      string    `json:"actual,omitempty"`
}

// ChainVerification is the outcome of replaying an agent's chain. BrokenAt
// carries the position of the first defect; a valid chain leaves it nil.
type ChainVerification struct {
	Valid    bool             `json:"valid"`
	Checked  int              `json:"checked"`
	BrokenAt *int64           `json:"broken_at,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Breaks   []*ChainBreak    `json:"breaks,omitempty"`
	Stats    *ChainStatistics `json:"stats,omitempty"`
}

// ChainStatistics summarizes a verified chain for operators
type ChainStatistics struct {
	TotalEntries   int                 `json:"total_entries"`
	StartTime      time.Time           `json:"start_time"`
	EndTime        time.Time           `json:"end_time"`
	TimeSpan       time.Duration       `json:"time_span"`
	RiskLevels     map[RiskLevel]int   `json:"risk_levels"`
	ContextTypes   map[ContextType]int `json:"context_types"`
	ViolationCount int                 `json:"violation_count"`
	MeanSafety     float64             `json:"mean_safety"`
}

// Verifier replays stored chains and reports every defect it finds.
// Verification is read only: entries are cloned before re-hashing.
type Verifier struct {
	recomputeHashes bool
}

// NewVerifier creates a verifier that recomputes every content hash
func NewVerifier() *Verifier {
	return &Verifier{recomputeHashes: true}
}

// NewLinkageVerifier creates a verifier that only checks link structure.
// Skipping hash recomputation trades tamper detection depth for speed on
// very long chains.
func NewLinkageVerifier() *Verifier {
	return &Verifier{recomputeHashes: false}
}

// VerifySequential replays entries in the given order, which must be the
// stored position order. An empty chain is trivially valid. The result is
// a value even when the chain is broken: integrity findings are data, not
// errors.
func (v *Verifier) VerifySequential(entries []*Entry) *ChainVerification {
	result := &ChainVerification{
		Valid:  true,
		Breaks: make([]*ChainBreak, 0),
	}

	if len(entries) == 0 {
		result.Stats = ComputeChainStatistics(entries)
		return result
	}

	for i, entry := range entries {
		result.Checked++

		if err := entry.Validate(); err != nil {
			v.record(result, &ChainBreak{
				EntryID:     entry.ID.String(),
				Position:    entry.Chain.Position.Value(),
				BreakType:   BreakCorruptedEntry,
				Description: fmt.Sprintf("entry failed validation: %v", err),
			})
			continue
		}

		if !entry.IsSealed() {
			v.record(result, &ChainBreak{
				EntryID:     entry.ID.String(),
				Position:    entry.Chain.Position.Value(),
				BreakType:   BreakCorruptedEntry,
				Description: "entry carries no content hash",
			})
			continue
		}

		if i == 0 {
			// A chain starting at genesis must not point anywhere.
			// Windows starting later treat their first stored link as
			// the trusted anchor.
			if entry.Chain.Position.IsGenesis() && !entry.Chain.PreviousHash.IsEmpty() {
				v.record(result, &ChainBreak{
					EntryID:     entry.ID.String(),
					Position:    entry.Chain.Position.Value(),
					BreakType:   BreakGenesisViolation,
					Description: "genesis entry carries a previous hash",
					Actual:      entry.Chain.PreviousHash.String(),
				})
			}
		} else {
			prev := entries[i-1]

			if !entry.Chain.Position.Follows(prev.Chain.Position) {
				v.record(result, &ChainBreak{
					EntryID:   entry.ID.String(),
					Position:  entry.Chain.Position.Value(),
					BreakType: BreakPositionGap,
					Description: fmt.Sprintf("expected position %d, got %d",
						prev.Chain.Position.Value()+1, entry.Chain.Position.Value()),
					Expected: fmt.Sprintf("%d", prev.Chain.Position.Value()+1),
					Actual:   fmt.Sprintf("%d", entry.Chain.Position.Value()),
				})
			}

			if !entry.Chain.PreviousHash.Equal(prev.Chain.ContentHash) {
				v.record(result, &ChainBreak{
					EntryID:     entry.ID.String(),
					Position:    entry.Chain.Position.Value(),
					BreakType:   BreakLinkMismatch,
					Description: "previous hash does not match predecessor's content hash",
					Expected:    prev.Chain.ContentHash.String(),
					Actual:      entry.Chain.PreviousHash.String(),
				})
			}
		}

		if v.recomputeHashes {
			recomputed, err := entry.Clone().RecomputeContentHash()
			if err != nil {
				v.record(result, &ChainBreak{
					EntryID:     entry.ID.String(),
					Position:    entry.Chain.Position.Value(),
					BreakType:   BreakCorruptedEntry,
					Description: fmt.Sprintf("hash recomputation failed: %v", err),
				})
				continue
			}

			if !recomputed.Equal(entry.Chain.ContentHash) {
				v.record(result, &ChainBreak{
					EntryID:     entry.ID.String(),
					Position:    entry.Chain.Position.Value(),
					BreakType:   BreakHashMismatch,
					Description: "stored content hash does not match entry content",
					Expected:    recomputed.String(),
					Actual:      entry.Chain.ContentHash.String(),
				})
			}
		}
	}

	result.Stats = ComputeChainStatistics(entries)
	return result
}

// record appends a break and pins the first one as the headline finding
func (v *Verifier) record(result *ChainVerification, b *ChainBreak) {
	result.Valid = false
	result.Breaks = append(result.Breaks, b)

	if result.BrokenAt == nil {
		pos := b.Position
		result.BrokenAt = &pos
		result.Reason = fmt.Sprintf("%s: %s", b.BreakType, b.Description)
	}
}

// ComputeChainStatistics summarizes entries for the verification report
func ComputeChainStatistics(entries []*Entry) *ChainStatistics {
	stats := &ChainStatistics{
		TotalEntries: len(entries),
		RiskLevels:   make(map[RiskLevel]int),
		ContextTypes: make(map[ContextType]int),
	}

	if len(entries) == 0 {
		return stats
	}

	stats.StartTime = entries[0].Timestamp
	stats.EndTime = entries[0].Timestamp

	safetySum := 0.0
	for _, entry := range entries {
		if entry.Timestamp.Before(stats.StartTime) {
			stats.StartTime = entry.Timestamp
		}
		if entry.Timestamp.After(stats.EndTime) {
			stats.EndTime = entry.Timestamp
		}

		stats.RiskLevels[entry.Autonomy.RiskLevel]++
		stats.ContextTypes[entry.ContextType]++
		stats.ViolationCount += len(entry.Compliance.Violations)
		safetySum += entry.Emotional.OverallSafety
	}

	stats.TimeSpan = stats.EndTime.Sub(stats.StartTime)
	stats.MeanSafety = safetySum / float64(len(entries))
	return stats
}
