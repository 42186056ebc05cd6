package voice

import (
	"encoding/binary"
	"testing"
)

func TestBuildWAVHeader(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	wav := BuildWAV(samples, 16000)

	if len(wav) != WAVHeaderSize+2*len(samples) {
		t.Fatalf("unexpected length %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+2*len(samples)) {
		t.Fatalf("riff size = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Fatalf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Fatalf("bits per sample = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(2*len(samples)) {
		t.Fatalf("data length = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(wav[WAVHeaderSize+8:])); got != -32768 {
		t.Fatalf("last sample = %d", got)
	}
}

func TestBuildWAVEmpty(t *testing.T) {
	wav := BuildWAV(nil, 0)
	if len(wav) != WAVHeaderSize {
		t.Fatalf("expected bare header, got %d bytes", len(wav))
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != DefaultSampleRate {
		t.Fatalf("default sample rate not applied: %d", got)
	}
}

func TestBuildWAVFromPCMDropsOddByte(t *testing.T) {
	wav := BuildWAVFromPCM([]byte{1, 0, 2, 0, 9}, 8000)
	if len(wav) != WAVHeaderSize+4 {
		t.Fatalf("unexpected length %d", len(wav))
	}
}

func TestParseWAVRoundTripAndExtraChunks(t *testing.T) {
	wav := BuildWAV([]int16{10, 20, 30}, 22050)

	// 在 fmt 与 data 之间插入一个 LIST 块
	list := []byte("LIST\x04\x00\x00\x00abcd")
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	for name, data := range map[string][]byte{"plain": wav, "with list": withList} {
		info, err := ParseWAV(data)
		if err != nil {
			t.Fatalf("%s: ParseWAV err: %v", name, err)
		}
		if info.SampleRate != 22050 || info.Channels != 1 || info.BitsPerSample != 16 || info.AudioFormat != 1 {
			t.Fatalf("%s: unexpected info %+v", name, info)
		}
		if len(info.Data) != 6 {
			t.Fatalf("%s: unexpected data length %d", name, len(info.Data))
		}
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("hello world!"), []byte("RIFF\x00\x00\x00\x00WAVE")} {
		if _, err := ParseWAV(data); err == nil {
			t.Fatalf("expected error for %q", data)
		}
	}
}
