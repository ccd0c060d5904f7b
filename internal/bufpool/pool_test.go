package bufpool

import "testing"

func TestPoolGeometry(t *testing.T) {
	p, err := New(8, 4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if p.Count() != 8 {
		t.Errorf("expected count 8, got %d", p.Count())
	}
	if p.SegmentLen() != 4096 {
		t.Errorf("expected segment len 4096, got %d", p.SegmentLen())
	}
}

func TestSegmentsAreContiguousAndDisjoint(t *testing.T) {
	p, err := New(4, 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	base := p.Base()
	for i := uint16(0); i < p.Count(); i++ {
		seg := p.Segment(i)
		if len(seg) != 1024 {
			t.Fatalf("segment %d has len %d", i, len(seg))
		}
		want := base + uintptr(int(i)*1024)
		if p.SegmentPtr(i) != want {
			t.Errorf("segment %d at %#x, want %#x", i, p.SegmentPtr(i), want)
		}
	}

	// A write to one segment must not bleed into its neighbor.
	s0 := p.Segment(0)
	s1 := p.Segment(1)
	for i := range s0 {
		s0[i] = 0xAA
	}
	for i, b := range s1 {
		if b != 0 {
			t.Fatalf("segment 1 byte %d dirtied by write to segment 0", i)
		}
	}
}

func TestSegmentOutOfRangePanics(t *testing.T) {
	p, err := New(2, 512)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range segment index")
		}
	}()
	p.Segment(2)
}

func TestInvalidGeometry(t *testing.T) {
	if _, err := New(0, 4096); err == nil {
		t.Error("expected error for zero segment count")
	}
	if _, err := New(8, 0); err == nil {
		t.Error("expected error for zero segment size")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p, err := New(2, 512)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
