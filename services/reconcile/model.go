package reconcile

// PassReport counts what one sweep pass did.
type PassReport struct {
	Scanned   int
	Succeeded int
	Failed    int
	Skipped   int

	rejected rejections
}

type Report struct {
	RunID    string
	Disabled bool
	Leased   bool
	Reward   PassReport
	Campaign PassReport
}
