package telemetry

import (
	"slices"
	"testing"
)

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra int
	}{
		{"exactly full", 0},
		{"one over", 1},
		{"wrapped once", 60},
		{"wrapped many", 137},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewRingBuffer[int](60)
			for i := 1; i <= 60+tt.extra; i++ {
				r.Put(i)
			}
			if r.Size() != 60 {
				t.Fatalf("size = %d, want 60", r.Size())
			}
			if got := r.Get(0); got != tt.extra+1 {
				t.Errorf("Get(0) = %d, want %d", got, tt.extra+1)
			}
			if got := r.Get(59); got != 60+tt.extra {
				t.Errorf("Get(59) = %d, want %d", got, 60+tt.extra)
			}
			if got := r.GetLast(0); got != 60+tt.extra {
				t.Errorf("GetLast(0) = %d, want %d", got, 60+tt.extra)
			}
		})
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	t.Parallel()

	r := NewRingBuffer[int](4)
	r.Put(7)
	r.Put(8)
	if r.Size() != 2 || r.Capacity() != 4 {
		t.Fatalf("size/cap = %d/%d, want 2/4", r.Size(), r.Capacity())
	}
	if got := r.Slice(); !slices.Equal(got, []int{7, 8}) {
		t.Errorf("Slice = %v, want [7 8]", got)
	}
	if got := Sum(r); got != 15 {
		t.Errorf("Sum = %d, want 15", got)
	}

	r.Clear()
	if r.Size() != 0 || Sum(r) != 0 {
		t.Errorf("after Clear size = %d sum = %d, want 0/0", r.Size(), Sum(r))
	}
}

func TestRingBuffer_GetOutOfRangePanics(t *testing.T) {
	t.Parallel()

	r := NewRingBuffer[int](3)
	r.Put(1)
	defer func() {
		if recover() == nil {
			t.Error("Get(1) on a one-element buffer did not panic")
		}
	}()
	r.Get(1)
}

func TestNewRingBuffer_RejectsZeroCapacity(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("NewRingBuffer(0) did not panic")
		}
	}()
	NewRingBuffer[int](0)
}
