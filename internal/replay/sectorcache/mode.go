package sectorcache

import "fmt"

// WritebackMode decides, per sector, whether a write is committed to the
// backing descriptor immediately or buffered until Synchronize.
type WritebackMode int

const (
	// All commits every sector immediately -- nothing is ever buffered.
	All WritebackMode = iota
	// None buffers every sector until Synchronize or Forget.
	None
	// Odd commits sectors with an odd sector index immediately.
	Odd
	// Even commits sectors with an even sector index immediately.
	Even
	// Random commits each write with independent 50% probability.
	Random
)

func (m WritebackMode) String() string {
	switch m {
	case All:
		return "all"
	case None:
		return "none"
	case Odd:
		return "odd"
	case Even:
		return "even"
	case Random:
		return "random"
	default:
		return fmt.Sprintf("WritebackMode(%d)", int(m))
	}
}

// ParseWritebackMode parses the --writeback flag value.
func ParseWritebackMode(s string) (WritebackMode, error) {
	switch s {
	case "all":
		return All, nil
	case "none":
		return None, nil
	case "odd":
		return Odd, nil
	case "even":
		return Even, nil
	case "random":
		return Random, nil
	default:
		return All, fmt.Errorf("unknown writeback mode %q", s)
	}
}
