package protocol

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func drawLayout(t *rapid.T) Layout {
	width := rapid.SampledFrom([]int{1, 2, 3, 4, 8}).Draw(t, "length_field_length")
	offset := rapid.IntRange(0, 4).Draw(t, "length_field_offset")
	return Layout{
		ByteOrder:                 rapid.SampledFrom([]ByteOrder{BigEndian, LittleEndian}).Draw(t, "byte_order"),
		LengthFieldLength:         width,
		LengthFieldOffset:         offset,
		LengthAdjustment:          rapid.IntRange(-3, 3).Draw(t, "length_adjustment"),
		InitialBytesToStrip:       offset + width + rapid.IntRange(0, 4).Draw(t, "extra_header"),
		LengthIncludesLengthField: rapid.Bool().Draw(t, "includes_length_field"),
	}
}

// Property: any sequence of encoded payloads, split at arbitrary points,
// decodes to the same payloads in the same order.
func TestRoundTripArbitraryChunking_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		layout := drawLayout(t)
		payloads := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, 200), 1, 8).Draw(t, "payloads")

		var wire []byte
		var want [][]byte
		for _, p := range payloads {
			b, err := Encode(p, layout)
			if errors.Is(err, ErrLengthFieldOverflow) {
				continue
			}
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			wire = append(wire, b...)
			want = append(want, p)
		}

		d, err := NewDecoder(layout, 1<<20, rapid.Bool().Draw(t, "fail_fast"))
		if err != nil {
			t.Fatalf("NewDecoder failed: %v", err)
		}

		var got [][]byte
		for len(wire) > 0 {
			n := rapid.IntRange(1, len(wire)).Draw(t, "chunk")
			d.Feed(wire[:n])
			wire = wire[n:]
			for {
				frame, ok, err := d.Next()
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}
				if !ok {
					break
				}
				got = append(got, frame)
			}
		}

		if len(got) != len(want) {
			t.Fatalf("expected %d frames, got %d", len(want), len(got))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("frame %d: expected %x, got %x", i, want[i], got[i])
			}
		}
		if d.Buffered() != 0 {
			t.Fatalf("expected no leftover bytes, got %d", d.Buffered())
		}
	})
}

// Property: the encoded length is header length plus payload length.
func TestEncodedLength_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		layout := drawLayout(t)
		payload := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "payload")

		b, err := Encode(payload, layout)
		if errors.Is(err, ErrLengthFieldOverflow) {
			return
		}
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if len(b) != layout.HeaderLength()+len(payload) {
			t.Fatalf("expected %d bytes, got %d", layout.HeaderLength()+len(payload), len(b))
		}
		if !bytes.Equal(b[layout.HeaderLength():], payload) {
			t.Fatal("payload not copied after header")
		}
	})
}

// Property: once the decoder reports an error, it never yields another frame.
func TestDecoderFailureIsTerminal_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d, err := NewDecoder(DefaultLayout(), 16, true)
		if err != nil {
			t.Fatalf("NewDecoder failed: %v", err)
		}
		d.Feed([]byte{0, 0, 0xff, 0xff})
		if _, _, err := d.Next(); err == nil {
			t.Fatal("expected oversized frame error")
		}

		more := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, 32), 1, 5).Draw(t, "more")
		for _, p := range more {
			d.Feed(p)
			if _, ok, err := d.Next(); ok || err == nil {
				t.Fatalf("failed decoder produced ok=%v err=%v", ok, err)
			}
		}
	})
}
