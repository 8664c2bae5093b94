package replay

import "github.com/crashconsistency/dsfs/internal/oplog"

// Filter implements the skip/take/start-touch/stop-touch control layer from
// spec.md §4.6. It wraps a Replayer and decides, record by record, whether
// to apply, drop, or terminate.
type Filter struct {
	replayer *Replayer

	skip int
	take int // 0 means unbounded

	startPath   string
	startArmed  bool
	stopPath    string
	stopEnabled bool

	line       int
	operations int
	done       bool
}

// NewFilter returns a filter over replayer. startTouch and stopTouch may be
// empty to leave the corresponding trigger disarmed/disabled. take == 0
// means unbounded.
func NewFilter(replayer *Replayer, skip, take int, startTouch, stopTouch string) *Filter {
	return &Filter{
		replayer:    replayer,
		skip:        skip,
		take:        take,
		startPath:   startTouch,
		startArmed:  startTouch != "",
		stopPath:    stopTouch,
		stopEnabled: stopTouch != "",
	}
}

// Done reports whether the session has already terminated, either by
// exhausting take or by hitting the stop-touch trigger.
func (f *Filter) Done() bool {
	return f.done
}

// Apply evaluates one record against the filter chain in the exact order
// spec.md §4.6 specifies, applying it against the wrapped replayer if it
// survives. It returns (applied, error); applied is false for a record the
// filter dropped without error. Once Done reports true the caller must stop
// feeding records; calling Apply again is a programming error.
func (f *Filter) Apply(op oplog.Operation) (bool, error) {
	f.line++

	if f.skip > 0 {
		f.skip--
		return false, nil
	}

	if f.startArmed && op.Type == oplog.CREATE && op.Path == f.startPath {
		f.startArmed = false
	}

	if f.stopEnabled && op.Type == oplog.CREATE && op.Path == f.stopPath {
		f.done = true
		return false, f.replayer.LosePower()
	}

	if f.startArmed {
		return false, nil
	}

	if err := f.replayer.Replay(op); err != nil {
		return false, err
	}
	f.operations++

	if f.take > 0 && f.operations == f.take {
		f.done = true
		return true, f.replayer.LosePower()
	}
	return true, nil
}
