package tabs

import (
	"testing"
	"time"
)

func assertState(t *testing.T, got State, tabs []string, active, preview string) {
	t.Helper()
	if len(got.OpenTabs) != len(tabs) {
		t.Fatalf("open tabs = %v, want %v", got.OpenTabs, tabs)
	}
	for i := range tabs {
		if got.OpenTabs[i] != tabs[i] {
			t.Fatalf("open tabs = %v, want %v", got.OpenTabs, tabs)
		}
	}
	if got.ActiveTabID != active {
		t.Errorf("active = %q, want %q", got.ActiveTabID, active)
	}
	if got.PreviewTabID != preview {
		t.Errorf("preview = %q, want %q", got.PreviewTabID, preview)
	}
}

func TestOpenUnpinnedReplacesPreview(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", false)
	st := m.OpenFile("p1", "b", false)
	// b takes a's slot, the strip does not grow
	assertState(t, st, []string{"b"}, "b", "b")
}

func TestOpenUnpinnedKeepsPreviewPosition(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", true)
	m.OpenFile("p1", "b", false)
	m.OpenFile("p1", "c", true)
	// preview b sits between the pinned tabs; d must replace it in place
	st := m.OpenFile("p1", "d", false)
	assertState(t, st, []string{"a", "d", "c"}, "d", "d")
}

func TestOpenPinnedAppends(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", false)
	st := m.OpenFile("p1", "b", true)
	assertState(t, st, []string{"a", "b"}, "b", "a")
}

func TestReopenActivates(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", true)
	m.OpenFile("p1", "b", true)
	st := m.OpenFile("p1", "a", false)
	// already open: no duplicate, no preview change
	assertState(t, st, []string{"a", "b"}, "a", "")
}

func TestPinPromotesPreview(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", false)
	st := m.OpenFile("p1", "a", true)
	assertState(t, st, []string{"a"}, "a", "")
	// the freed slot means the next unpinned open appends
	st = m.OpenFile("p1", "b", false)
	assertState(t, st, []string{"a", "b"}, "b", "b")
}

func TestCloseActiveTabActivatesNeighbor(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", true)
	m.OpenFile("p1", "b", true)
	m.OpenFile("p1", "c", true)

	m.SetActive("p1", "b")
	st := m.CloseTab("p1", "b")
	// the tab that slid into b's index becomes active
	assertState(t, st, []string{"a", "c"}, "c", "")

	st = m.CloseTab("p1", "c")
	assertState(t, st, []string{"a"}, "a", "")

	st = m.CloseTab("p1", "a")
	assertState(t, st, []string{}, "", "")
}

func TestCloseInactiveTabKeepsActive(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", true)
	m.OpenFile("p1", "b", true)
	m.SetActive("p1", "a")
	st := m.CloseTab("p1", "b")
	assertState(t, st, []string{"a"}, "a", "")
}

func TestClosePreviewClearsSlot(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", true)
	m.OpenFile("p1", "b", false)
	st := m.CloseTab("p1", "b")
	assertState(t, st, []string{"a"}, "a", "")
}

func TestCloseUnknownTabIsNoop(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", false)
	st := m.CloseTab("p1", "zzz")
	assertState(t, st, []string{"a"}, "a", "a")
}

func TestCloseAll(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", true)
	m.OpenFile("p1", "b", false)
	st := m.CloseAll("p1")
	assertState(t, st, []string{}, "", "")
}

func TestProjectsIsolated(t *testing.T) {
	m := NewManager()
	m.OpenFile("p1", "a", false)
	m.OpenFile("p2", "x", true)
	assertState(t, m.State("p1"), []string{"a"}, "a", "a")
	assertState(t, m.State("p2"), []string{"x"}, "x", "")
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	r.Manager(SessionKey("tok-1"))
	r.Manager(SessionKey("tok-2"))
	if r.Len() != 2 {
		t.Fatalf("sessions = %d, want 2", r.Len())
	}

	time.Sleep(20 * time.Millisecond)
	r.Manager(SessionKey("tok-2")) // refresh one session
	if removed := r.Sweep(); removed != 1 {
		t.Fatalf("swept %d sessions, want 1", removed)
	}
	if r.Len() != 1 {
		t.Fatalf("sessions = %d after sweep, want 1", r.Len())
	}
}

func TestRegistryKeepsManagerState(t *testing.T) {
	r := NewRegistry(time.Hour)
	key := SessionKey("tok")
	r.Manager(key).OpenFile("p1", "a", true)
	st := r.Manager(key).State("p1")
	assertState(t, st, []string{"a"}, "a", "")
}
