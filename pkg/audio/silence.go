// ABOUTME: Silence generator
// ABOUTME: Writes format-correct silent frames into a caller buffer
package audio

// Silence writes exactly frames silent frames at the start of buf and leaves the rest
// of buf untouched. Unsigned 8-bit silence is the midpoint 0x80.
func Silence(buf []byte, frames int, format Format) {
	n := frames * format.FrameSize()
	if n > len(buf) {
		n = len(buf) - len(buf)%format.FrameSize()
	}
	var fill byte
	if format.BitDepth == 8 {
		fill = 0x80
	}
	region := buf[:n]
	for i := range region {
		region[i] = fill
	}
}
