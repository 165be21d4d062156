package observers

import "testing"

func TestListUnregister(t *testing.T) {
	l := List[func() string]{}
	l.Add(func() string { return "a" })
	unregisterB := l.Add(func() string { return "b" })
	l.Add(func() string { return "c" })

	unregisterB()
	unregisterB()

	var got string
	for _, fn := range l.Snapshot() {
		got += fn()
	}
	if got != "ac" {
		t.Fatalf("expected ac, got %q", got)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 observers, got %d", l.Len())
	}
}
