package chunk

import (
	"errors"
	"testing"
)

func TestOrder(t *testing.T) {
	tests := []struct {
		name    string
		tags    []Tag
		wantErr bool
	}{
		{"single start final", []Tag{TagStartFinal}, false},
		{"start final", []Tag{TagStart, TagFinal}, false},
		{"start continue final", []Tag{TagStart, TagContinue, TagContinue, TagFinal}, false},
		{"two operations", []Tag{TagStart, TagFinal, TagStartFinal}, false},
		{"continue first", []Tag{TagContinue}, true},
		{"final first", []Tag{TagFinal}, true},
		{"double start", []Tag{TagStart, TagStart}, true},
		{"start final inside", []Tag{TagStart, TagStartFinal}, true},
		{"continue after final", []Tag{TagStart, TagFinal, TagContinue}, true},
		{"unknown tag", []Tag{TagIntermediate}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o Order
			var err error
			for _, tag := range tt.tags {
				if err = o.Observe(tag); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOutOfOrder) {
				t.Errorf("error = %v, want ErrOutOfOrder", err)
			}
		})
	}
}

func TestOrderResetsAfterRejection(t *testing.T) {
	var o Order
	_ = o.Observe(TagStart)
	if err := o.Observe(TagStart); err == nil {
		t.Fatal("expected rejection")
	}
	if o.Active() {
		t.Error("tracker still active after rejection")
	}
	if err := o.Observe(TagStart); err != nil {
		t.Errorf("fresh START rejected after reset: %v", err)
	}
}

func TestReassembler(t *testing.T) {
	t.Run("known total", func(t *testing.T) {
		r, err := NewReassembler(25, 10)
		if err != nil {
			t.Fatal(err)
		}
		var windows [][2]int
		for {
			off, n, ok := r.Window()
			if !ok {
				break
			}
			windows = append(windows, [2]int{off, n})
			if err := r.Add(make([]byte, n)); err != nil {
				t.Fatal(err)
			}
		}
		want := [][2]int{{0, 10}, {10, 10}, {20, 5}}
		if len(windows) != len(want) {
			t.Fatalf("windows = %v, want %v", windows, want)
		}
		for i := range want {
			if windows[i] != want[i] {
				t.Errorf("window %d = %v, want %v", i, windows[i], want[i])
			}
		}
		if len(r.Bytes()) != 25 {
			t.Errorf("collected %d bytes, want 25", len(r.Bytes()))
		}
	})

	t.Run("short read ends", func(t *testing.T) {
		r, _ := NewReassembler(0, 10)
		_, n, _ := r.Window()
		_ = r.Add(make([]byte, n))
		_, _, _ = r.Window()
		_ = r.Add(make([]byte, 3))
		if !r.Done() {
			t.Fatal("short chunk did not end the read")
		}
		if len(r.Bytes()) != 13 {
			t.Errorf("collected %d bytes, want 13", len(r.Bytes()))
		}
		if err := r.Add([]byte{1}); !errors.Is(err, ErrOutOfOrder) {
			t.Errorf("Add after done error = %v, want ErrOutOfOrder", err)
		}
	})

	t.Run("oversized chunk", func(t *testing.T) {
		r, _ := NewReassembler(0, 4)
		_, _, _ = r.Window()
		if err := r.Add(make([]byte, 5)); err == nil {
			t.Error("expected error for chunk larger than the window")
		}
	})
}
