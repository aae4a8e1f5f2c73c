package repository

// Outcome reports what an idempotent upsert actually did. Every derived
// aggregate (scores, ranks, statistics, answer counts) is written through a
// select-compare-write cycle so that re-running an unchanged recomputation
// issues zero writes.
type Outcome int

const (
	// OutcomeUnchanged means every computed field matched the stored row.
	OutcomeUnchanged Outcome = iota
	// OutcomeUpdated means at least one stored row was overwritten.
	OutcomeUpdated
	// OutcomeCreated means at least one row did not exist before.
	OutcomeCreated
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Changed reports whether the upsert wrote anything.
func (o Outcome) Changed() bool {
	return o != OutcomeUnchanged
}

// Merge folds a per-row outcome into a batch outcome. Created dominates
// updated, updated dominates unchanged.
func (o Outcome) Merge(other Outcome) Outcome {
	if other > o {
		return other
	}
	return o
}
