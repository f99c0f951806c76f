package engine

import "testing"

func TestPageOf_WalksAllItems(t *testing.T) {
	all := make([]int, 7)
	for i := range all {
		all[i] = i
	}

	var got []int
	var cursor *string
	for {
		page := pageOf(all, cursor, 3)
		got = append(got, page.Items...)
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	if len(got) != len(all) {
		t.Fatalf("expected %d items across pages, got %d", len(all), len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected item %d at position %d, got %d", i, i, v)
		}
	}
}

func TestPageOf_LastPageHasNoCursor(t *testing.T) {
	page := pageOf([]int{1, 2}, nil, 3)
	if page.NextCursor != nil {
		t.Fatalf("expected no next cursor, got %q", *page.NextCursor)
	}
}

func TestParseCursor_BadInputRestarts(t *testing.T) {
	for _, raw := range []string{"abcd", "-3", ""} {
		s := raw
		if got := parseCursor(&s); got != 0 {
			t.Fatalf("cursor %q: expected restart at 0, got %d", raw, got)
		}
	}
	if got := parseCursor(nil); got != 0 {
		t.Fatalf("nil cursor: expected 0, got %d", got)
	}
}

func TestPageOf_CursorPastEndRestarts(t *testing.T) {
	s := "99"
	page := pageOf([]int{1, 2, 3}, &s, 2)
	if len(page.Items) != 2 || page.Items[0] != 1 {
		t.Fatalf("expected restart from the beginning, got %+v", page.Items)
	}
}

func TestNewPage_NormalizesNil(t *testing.T) {
	page := NewPage[string](nil)
	if page.Items == nil {
		t.Fatalf("expected non-nil items slice")
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty items, got %+v", page.Items)
	}
}
