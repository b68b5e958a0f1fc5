package compact

// Settings control when compaction runs and how much it keeps.
type Settings struct {
	Enabled bool
	// ReserveTokens is the headroom kept free for the next response and
	// the summary request itself.
	ReserveTokens int
	// KeepRecentTokens is the approximate size of the verbatim tail.
	KeepRecentTokens int
	// ShortSummary requests a one-line summary alongside the main one.
	ShortSummary bool
}

// DefaultSettings returns the standard compaction settings.
func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		ReserveTokens:    16384,
		KeepRecentTokens: 20000,
	}
}

// BranchSettings control branch summarization on tree navigation.
type BranchSettings struct {
	Enabled       bool
	ReserveTokens int
	// ContinuityThreshold is the fraction of the budget below which a
	// summary entry at the budget edge is still included.
	ContinuityThreshold float64
}

// DefaultBranchSettings returns the standard branch summary settings.
func DefaultBranchSettings() BranchSettings {
	return BranchSettings{
		ReserveTokens:       16384,
		ContinuityThreshold: 0.9,
	}
}
