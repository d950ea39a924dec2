package voice

import (
	"bytes"
	"math/rand/v2"
	"testing"
)

func TestFrameBuffer_FrameCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		size   int
		pushes []int
	}{
		{name: "empty", size: 1024, pushes: nil},
		{name: "exact frame", size: 1024, pushes: []int{1024}},
		{name: "two frames at once", size: 1024, pushes: []int{2048}},
		{name: "small chunks", size: 1024, pushes: []int{100, 200, 300, 400, 500}},
		{name: "remainder kept", size: 1024, pushes: []int{1500}},
		{name: "zero-length pushes", size: 4, pushes: []int{0, 3, 0, 1, 0}},
		{name: "many frames", size: 2, pushes: []int{7, 9, 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			checkFraming(t, tt.size, tt.pushes)
		})
	}
}

func TestFrameBuffer_RandomPushes(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		size := 2 * (1 + r.IntN(600))
		pushes := make([]int, r.IntN(40))
		for i := range pushes {
			pushes[i] = r.IntN(3 * size)
		}
		checkFraming(t, size, pushes)
	}
}

// checkFraming pushes numbered bytes and verifies frame count, remainder and
// that the frames replay the input in order.
func checkFraming(t *testing.T, size int, pushes []int) {
	t.Helper()
	b := NewFrameBuffer(size)

	var input, output []byte
	frames := 0
	for _, n := range pushes {
		chunk := make([]byte, n)
		for i := range chunk {
			chunk[i] = byte(len(input) + i)
		}
		input = append(input, chunk...)
		for _, f := range b.Push(chunk) {
			if len(f) != size {
				t.Fatalf("frame length = %d, want %d", len(f), size)
			}
			frames++
			output = append(output, f...)
		}
		if b.Buffered() >= size {
			t.Fatalf("Buffered() = %d, want < %d", b.Buffered(), size)
		}
	}

	total := len(input)
	if frames != total/size {
		t.Errorf("frames = %d, want %d (total %d, size %d)", frames, total/size, total, size)
	}
	if b.Buffered() != total%size {
		t.Errorf("Buffered() = %d, want %d", b.Buffered(), total%size)
	}
	if !bytes.Equal(output, input[:len(output)]) {
		t.Error("frames do not replay the input in order")
	}
}

func TestFrameBuffer_FramesDoNotAlias(t *testing.T) {
	t.Parallel()
	b := NewFrameBuffer(4)
	chunk := []byte{1, 2, 3, 4, 5, 6}
	frames := b.Push(chunk)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	chunk[0] = 99
	next := b.Push([]byte{7, 8})
	if len(next) != 1 {
		t.Fatalf("got %d frames, want 1", len(next))
	}
	if !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Errorf("first frame changed to %v", frames[0])
	}
	if !bytes.Equal(next[0], []byte{5, 6, 7, 8}) {
		t.Errorf("second frame = %v, want [5 6 7 8]", next[0])
	}
	// Appending to a frame must not spill into its neighbour.
	two := NewFrameBuffer(2).Push([]byte{1, 2, 3, 4})
	_ = append(two[0], 42)
	if two[1][0] != 3 {
		t.Errorf("append to frame 0 overwrote frame 1: %v", two[1])
	}
}

func TestNewFrameBuffer_PanicsOnBadSize(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for size 0")
		}
	}()
	NewFrameBuffer(0)
}
