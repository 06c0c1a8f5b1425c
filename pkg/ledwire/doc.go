// Package ledwire converts LED color buffers between the backend's wire
// byte order and the logical RGB(+W) layout the UI renders.
//
// The wire format is G,R,B per LED for RGB strips and G,R,B,W for RGBW
// strips; the white byte is usually zero for computed patterns. The
// package is a pure leaf: no I/O, no dependency on the rest of the
// module, so it can be reused by tooling that talks to the same boards.
package ledwire
