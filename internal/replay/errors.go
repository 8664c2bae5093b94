package replay

import "fmt"

// HostError wraps a failing host filesystem call, naming the opcode that
// triggered it.
type HostError struct {
	Op  string
	Err error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// ContractError reports that the log violated one of the replayer's
// structural invariants: a duplicate handle open, a reference to an unknown
// handle, or an inode that changed variant underfoot.
type ContractError struct {
	Msg string
}

func (e *ContractError) Error() string { return e.Msg }

// UnimplementedError marks one of the declared-but-not-implemented hooks
// from spec.md §9. The replayer aborts rather than guessing at semantics.
type UnimplementedError struct {
	Msg string
}

func (e *UnimplementedError) Error() string { return "unimplemented: " + e.Msg }
