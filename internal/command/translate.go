package command

import "github.com/skobkin/xaescope/internal/device"

// Translate maps cmd to its op sequence: an optional configuration op, then
// flush, then read-back. It performs no I/O.
func Translate(cmd Command) device.Sequence {
	seq := make(device.Sequence, 0, 3)
	if c, ok := cmd.(Config); ok {
		if code, known := c.Kind.Code(); known {
			seq = append(seq, device.Configure(code, c.Parameter))
		}
	}

	return append(seq, device.Flush(), device.Read())
}
