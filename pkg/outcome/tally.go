package outcome

// Tally counts outcomes by kind.
type Tally struct {
	Success  int
	NotFound int
	Failure  int
	Stopped  int
}

// Add records one outcome.
func (t *Tally) Add(o Outcome) {
	switch o.Kind {
	case KindSuccess:
		t.Success++
	case KindNotFound:
		t.NotFound++
	case KindFailure:
		t.Failure++
	case KindStopped:
		t.Stopped++
	}
}

// Resolved is the number of outcomes that are not sentinels.
func (t Tally) Resolved() int {
	return t.Success + t.NotFound + t.Failure
}

// Count tallies a slice of outcomes.
func Count(outcomes []Outcome) Tally {
	var t Tally
	for _, o := range outcomes {
		t.Add(o)
	}
	return t
}
