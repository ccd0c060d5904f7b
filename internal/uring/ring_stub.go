package uring

// StubRing is a deterministic in-memory Ring for tests. Pushed entries are
// recorded; completions are scripted by the test via Complete and handed
// out on the next Drain. SubmitAndWait never blocks.
type StubRing struct {
	// Submitted holds every entry that has been pushed and submitted, in
	// submission order.
	Submitted []Entry

	pushed  []Entry
	pending []CQE
	closed  bool
}

// NewStub creates an empty stub ring.
func NewStub() *StubRing {
	return &StubRing{}
}

func (s *StubRing) Push(e Entry) error {
	s.pushed = append(s.pushed, e)
	return nil
}

func (s *StubRing) SubmitAndWait(wait uint32) (int, error) {
	n := len(s.pushed)
	s.Submitted = append(s.Submitted, s.pushed...)
	s.pushed = s.pushed[:0]
	return n, nil
}

func (s *StubRing) Drain(fn func(CQE)) int {
	n := len(s.pending)
	for _, c := range s.pending {
		fn(c)
	}
	s.pending = s.pending[:0]
	return n
}

func (s *StubRing) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *StubRing) Closed() bool {
	return s.closed
}

// Complete schedules a completion for the next Drain.
func (s *StubRing) Complete(c CQE) {
	s.pending = append(s.pending, c)
}

// Take removes and returns all submitted entries matching kind, preserving
// order. Entries of other kinds stay queued.
func (s *StubRing) Take(kind EntryKind) []Entry {
	var taken, rest []Entry
	for _, e := range s.Submitted {
		if e.Kind == kind {
			taken = append(taken, e)
		} else {
			rest = append(rest, e)
		}
	}
	s.Submitted = rest
	return taken
}
