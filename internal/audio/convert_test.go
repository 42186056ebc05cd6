package audio

import (
	"encoding/binary"
	"testing"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesOf(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestConvertPassThrough(t *testing.T) {
	in := pcm(1, 2, 3)
	out := Convert(model.PlaybackItem{PCM: in, SampleRate: 16000, Channels: 1}, 16000, 1)
	if &out[0] != &in[0] {
		t.Fatal("matching format should not copy")
	}
}

func TestConvertMonoToStereo(t *testing.T) {
	out := samplesOf(Convert(model.PlaybackItem{PCM: pcm(100, -200), SampleRate: 24000, Channels: 1}, 24000, 2))
	want := []int16{100, 100, -200, -200}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: want %d got %d", i, want[i], out[i])
		}
	}
}

func TestConvertStereoDownmix(t *testing.T) {
	out := samplesOf(Convert(model.PlaybackItem{PCM: pcm(100, 300, -32768, -32768), SampleRate: 8000, Channels: 2}, 8000, 1))
	if len(out) != 2 || out[0] != 200 || out[1] != -32768 {
		t.Fatalf("unexpected downmix %v", out)
	}
}

func TestConvertUpsampleInterpolates(t *testing.T) {
	out := samplesOf(Convert(model.PlaybackItem{PCM: pcm(0, 1000), SampleRate: 8000, Channels: 1}, 16000, 1))
	if len(out) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out))
	}
	if out[0] != 0 || out[1] != 500 || out[2] != 1000 {
		t.Fatalf("unexpected interpolation %v", out)
	}
}

func TestConvertStereoResampleKeepsChannels(t *testing.T) {
	in := pcm(10, -10, 10, -10, 10, -10, 10, -10)
	out := samplesOf(Convert(model.PlaybackItem{PCM: in, SampleRate: 44100, Channels: 2}, 22050, 2))
	if len(out) != 4 {
		t.Fatalf("expected 2 stereo frames, got %d samples", len(out))
	}
	if out[0] != 10 || out[1] != -10 {
		t.Fatalf("channels mixed: %v", out)
	}
}
