package voice

import (
	"math"
	"testing"
)

func TestRMSLevel(t *testing.T) {
	if got := RMSLevel(nil); got != 0 {
		t.Fatalf("empty input should be silent, got %f", got)
	}
	if got := RMSLevel(make([]byte, 64)); got != 0 {
		t.Fatalf("zeros should be silent, got %f", got)
	}

	// 恒定 16384 -> 0.5
	pcm := make([]byte, 0, 16)
	for i := 0; i < 8; i++ {
		pcm = append(pcm, 0x00, 0x40)
	}
	if got := RMSLevel(pcm); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %f", got)
	}
}

func TestPeakLevel(t *testing.T) {
	pcm := []byte{0x00, 0x80, 0x00, 0x40} // -32768, 16384
	if got := PeakLevel(pcm); got != 1 {
		t.Fatalf("expected full scale peak, got %f", got)
	}
}
