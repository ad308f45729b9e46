package timeline

import "testing"

func TestBoard_MonotonicIDsAndOrder(t *testing.T) {
	b := NewBoard()
	a := b.Add("전화 연결", "phone", StatusLoading)
	c := b.Add("일정 등록", "calendar", StatusPending)
	if a.ID >= c.ID {
		t.Fatalf("expected monotonic ids, got %d then %d", a.ID, c.ID)
	}
	got := b.Entries()
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != c.ID {
		t.Fatalf("entries out of creation order: %+v", got)
	}
}

func TestBoard_ForwardOnlyStatus(t *testing.T) {
	b := NewBoard()
	e := b.Add("전화 연결", "phone", StatusPending)
	if err := b.Advance(e.ID, StatusLoading); err != nil {
		t.Fatalf("pending->loading: %v", err)
	}
	if err := b.Advance(e.ID, StatusPending); err == nil {
		t.Fatalf("expected backward move rejected")
	}
	if err := b.Advance(e.ID, StatusDone); err != nil {
		t.Fatalf("loading->done: %v", err)
	}
	if err := b.Advance(e.ID, StatusError); err == nil {
		t.Fatalf("expected move off terminal status rejected")
	}
}

func TestBoard_FailInFlight(t *testing.T) {
	b := NewBoard()
	p := b.Add("a", "", StatusPending)
	l := b.Add("b", "", StatusLoading)
	d := b.Add("c", "", StatusLoading)
	_ = b.Advance(d.ID, StatusDone)
	if n := b.FailInFlight(); n != 2 {
		t.Fatalf("expected 2 failed, got %d", n)
	}
	for _, e := range b.Entries() {
		switch e.ID {
		case p.ID, l.ID:
			if e.Status != StatusError {
				t.Fatalf("entry %d expected error, got %s", e.ID, e.Status)
			}
		case d.ID:
			if e.Status != StatusDone {
				t.Fatalf("done entry must stay done, got %s", e.Status)
			}
		}
	}
}

func TestBoard_AdvanceUnknownEntry(t *testing.T) {
	b := NewBoard()
	if err := b.Advance(42, StatusDone); err == nil {
		t.Fatalf("expected error for unknown entry")
	}
}
