package oplog

import "fmt"

// ParseError reports a malformed log record, naming the 1-based line on
// which the record started.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}
