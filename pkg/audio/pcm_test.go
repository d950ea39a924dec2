package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// samples encodes int16 values as little-endian PCM.
func samples(vals ...int16) []byte {
	buf := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestRMS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"single odd byte", []byte{0x01}, 0},
		{"silence", make([]byte, 64), 0},
		{"constant", samples(1000, -1000, 1000, -1000), 1000},
		{"trailing odd byte ignored", append(samples(300, 300), 0x7f), 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.RMS(tt.pcm); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNormalizedRMS_ClampsToOne(t *testing.T) {
	t.Parallel()
	got := audio.NormalizedRMS(samples(math.MinInt16, math.MinInt16))
	if got != 1.0 {
		t.Errorf("NormalizedRMS = %f, want 1.0", got)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	// 1024 bytes of 16 kHz mono is 512 samples = 32ms.
	if got := audio.Duration(make([]byte, 1024), 16000, 1); got != 32*time.Millisecond {
		t.Errorf("Duration = %v, want 32ms", got)
	}
	if got := audio.Duration(make([]byte, 1024), 0, 1); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()
	pcm := samples(1, 2, 3, 4)
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	le := binary.LittleEndian
	if got := le.Uint32(wav[24:]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := le.Uint32(wav[28:]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := le.Uint32(wav[40:]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}
