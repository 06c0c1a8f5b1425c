package ledwire

import "fmt"

// LedType identifies the per-LED channel layout.
type LedType string

const (
	TypeRGB  LedType = "RGB"
	TypeRGBW LedType = "RGBW"
)

// BytesPerLed returns the wire footprint of one LED. Unknown types fall
// back to 3 bytes so a malformed config degrades to RGB instead of
// corrupting offsets for every following strip.
func BytesPerLed(t LedType) int {
	if t == TypeRGBW {
		return 4
	}
	return 3
}

// Color is one LED in logical channel order.
type Color struct {
	R, G, B, W uint8
}

// Hex renders the color as a #rrggbb string for terminal styling. The
// white channel is folded in additively, clamped per channel.
func (c Color) Hex() string {
	r := clamp8(int(c.R) + int(c.W))
	g := clamp8(int(c.G) + int(c.W))
	b := clamp8(int(c.B) + int(c.W))
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func clamp8(v int) uint8 {
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// FromWire decodes a wire buffer (G,R,B[,W] per LED) into logical
// colors. A trailing partial LED is zero-padded rather than rejected so
// undersized fragments still produce a usable prefix.
func FromWire(wire []byte, t LedType) []Color {
	stride := BytesPerLed(t)
	count := (len(wire) + stride - 1) / stride
	colors := make([]Color, count)
	for i := 0; i < count; i++ {
		var led [4]byte
		copy(led[:stride], wire[i*stride:min(len(wire), (i+1)*stride)])
		colors[i] = Color{G: led[0], R: led[1], B: led[2]}
		if t == TypeRGBW {
			colors[i].W = led[3]
		}
	}
	return colors
}

// ToWire encodes logical colors back into wire byte order.
func ToWire(colors []Color, t LedType) []byte {
	stride := BytesPerLed(t)
	wire := make([]byte, len(colors)*stride)
	for i, c := range colors {
		off := i * stride
		wire[off] = c.G
		wire[off+1] = c.R
		wire[off+2] = c.B
		if t == TypeRGBW {
			wire[off+3] = c.W
		}
	}
	return wire
}

// LogicalFromWire rewrites a wire buffer in place-compatible fashion to
// logical R,G,B[,W] byte order, keeping the same stride. Renderers that
// index raw bytes use this instead of the Color representation.
func LogicalFromWire(wire []byte, t LedType) []byte {
	stride := BytesPerLed(t)
	out := make([]byte, len(wire))
	copy(out, wire)
	for off := 0; off+1 < len(out); off += stride {
		out[off], out[off+1] = out[off+1], out[off]
	}
	return out
}

// ZeroPad returns buf extended with zeros to at least n bytes. The
// original slice is returned untouched when already long enough.
func ZeroPad(buf []byte, n int) []byte {
	if len(buf) >= n {
		return buf
	}
	padded := make([]byte, n)
	copy(padded, buf)
	return padded
}
