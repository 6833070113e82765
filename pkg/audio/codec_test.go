package audio_test

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/liveline-audio/liveline/pkg/audio"
)

// ── Encode ─────────────────────────────────────────────────────────────────────

func TestEncode_MimeTypeCarriesRate(t *testing.T) {
	t.Parallel()

	p := audio.Encode(audio.Frame{Samples: []float32{0}, SampleRate: 16000, Channels: 1})
	if p.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q; want audio/pcm;rate=16000", p.MIMEType)
	}
}

func TestEncode_PacksLittleEndian(t *testing.T) {
	t.Parallel()

	// 0.5 × 32768 = 16384 = 0x4000 → bytes 0x00 0x40 little-endian.
	p := audio.Encode(audio.Frame{Samples: []float32{0.5}, SampleRate: 16000, Channels: 1})
	pcm, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	if len(pcm) != 2 || pcm[0] != 0x00 || pcm[1] != 0x40 {
		t.Errorf("pcm = %#v; want [0x00 0x40]", pcm)
	}
}

func TestEncode_ClampsFullScale(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"positive full scale", 1.0, 32767},
		{"negative full scale", -1.0, -32768},
		{"overdriven positive", 1.5, 32767},
		{"overdriven negative", -1.5, -32768},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := audio.Encode(audio.Frame{Samples: []float32{tc.sample}, SampleRate: 16000, Channels: 1})
			pcm, _ := base64.StdEncoding.DecodeString(p.Data)
			got := int16(pcm[0]) | int16(pcm[1])<<8
			if got != tc.want {
				t.Errorf("sample %v encoded to %d; want %d", tc.sample, got, tc.want)
			}
		})
	}
}

func TestEncode_TruncatesWithoutDithering(t *testing.T) {
	t.Parallel()

	// 0.300003 × 32768 = 9830.49832…; truncation keeps 9830 every time.
	const s = float32(0.300003)
	p1 := audio.Encode(audio.Frame{Samples: []float32{s, s, s}, SampleRate: 16000, Channels: 1})
	p2 := audio.Encode(audio.Frame{Samples: []float32{s, s, s}, SampleRate: 16000, Channels: 1})
	if p1.Data != p2.Data {
		t.Error("encoding the same samples twice produced different payloads")
	}
	pcm, _ := base64.StdEncoding.DecodeString(p1.Data)
	got := int16(pcm[0]) | int16(pcm[1])<<8
	if got != 9830 {
		t.Errorf("truncated sample = %d; want 9830", got)
	}
}

// ── Decode ─────────────────────────────────────────────────────────────────────

func TestDecode_EmptyPayloadIsNotAnError(t *testing.T) {
	t.Parallel()

	bufs, err := audio.Decode(audio.Packet{MIMEType: "audio/pcm;rate=24000"}, 1)
	if err != nil {
		t.Fatalf("Decode empty payload: %v", err)
	}
	if len(bufs) != 1 || len(bufs[0]) != 0 {
		t.Errorf("bufs = %v; want one empty channel buffer", bufs)
	}
}

func TestDecode_OddByteLengthFailsMalformed(t *testing.T) {
	t.Parallel()

	p := audio.Packet{
		MIMEType: "audio/pcm;rate=24000",
		Data:     base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03}),
	}
	_, err := audio.Decode(p, 1)
	if !errors.Is(err, audio.ErrMalformedPayload) {
		t.Fatalf("err = %v; want ErrMalformedPayload", err)
	}
	if !strings.Contains(err.Error(), "3 bytes") {
		t.Errorf("error should name the byte count, got %q", err)
	}
}

func TestDecode_StereoAlignmentFailsMalformed(t *testing.T) {
	t.Parallel()

	// Six bytes is three mono samples but one and a half stereo frames.
	p := audio.Packet{
		MIMEType: "audio/pcm;rate=24000",
		Data:     base64.StdEncoding.EncodeToString(make([]byte, 6)),
	}
	if _, err := audio.Decode(p, 1); err != nil {
		t.Errorf("mono decode of 6 bytes should succeed, got %v", err)
	}
	if _, err := audio.Decode(p, 2); !errors.Is(err, audio.ErrMalformedPayload) {
		t.Errorf("stereo decode of 6 bytes: err = %v; want ErrMalformedPayload", err)
	}
}

func TestDecode_InvalidBase64FailsMalformed(t *testing.T) {
	t.Parallel()

	_, err := audio.Decode(audio.Packet{Data: "not@@base64!!"}, 1)
	if !errors.Is(err, audio.ErrMalformedPayload) {
		t.Errorf("err = %v; want ErrMalformedPayload", err)
	}
}

func TestDecode_DeinterleavesChannels(t *testing.T) {
	t.Parallel()

	// Interleaved stereo: L=16384 (0.5), R=-16384 (-0.5), two frames.
	pcm := []byte{
		0x00, 0x40, 0x00, 0xC0,
		0x00, 0x40, 0x00, 0xC0,
	}
	bufs, err := audio.DecodePCM(pcm, 2)
	if err != nil {
		t.Fatalf("DecodePCM: %v", err)
	}
	if len(bufs) != 2 {
		t.Fatalf("got %d channel buffers; want 2", len(bufs))
	}
	for i := range 2 {
		if bufs[0][i] != 0.5 {
			t.Errorf("left[%d] = %v; want 0.5", i, bufs[0][i])
		}
		if bufs[1][i] != -0.5 {
			t.Errorf("right[%d] = %v; want -0.5", i, bufs[1][i])
		}
	}
}

// ── Round trip ─────────────────────────────────────────────────────────────────

func TestRoundTrip_WithinOneLSB(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{8000, 16000, 24000, 48000} {
		t.Run(audio.PCMMimeType(rate), func(t *testing.T) {
			t.Parallel()

			const n = 480
			in := make([]float32, n)
			for i := range in {
				in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / float64(rate)))
			}

			p := audio.Encode(audio.Frame{Samples: in, SampleRate: rate, Channels: 1})
			out, err := audio.Decode(p, 1)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(out[0]) != n {
				t.Fatalf("decoded %d samples; want %d", len(out[0]), n)
			}

			const tolerance = 1.0 / 32768
			for i := range in {
				if diff := math.Abs(float64(in[i] - out[0][i])); diff > tolerance {
					t.Fatalf("sample %d: |%v - %v| = %v exceeds 1/32768", i, in[i], out[0][i], diff)
				}
			}
		})
	}
}

// ── Durations ──────────────────────────────────────────────────────────────────

func TestSamplesDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		samples, rate int
		wantMs        int64
	}{
		{24000, 24000, 1000},
		{2400, 24000, 100},
		{160, 16000, 10},
		{0, 24000, 0},
	}
	for _, tc := range cases {
		if got := audio.SamplesDuration(tc.samples, tc.rate).Milliseconds(); got != tc.wantMs {
			t.Errorf("SamplesDuration(%d, %d) = %dms; want %dms", tc.samples, tc.rate, got, tc.wantMs)
		}
	}
}

func TestFrameDuration_InterleavedStereo(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Samples: make([]float32, 4800), SampleRate: 24000, Channels: 2}
	if got := f.Duration().Milliseconds(); got != 100 {
		t.Errorf("Duration = %dms; want 100ms", got)
	}
}
