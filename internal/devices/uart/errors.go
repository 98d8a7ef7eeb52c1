package uart

import "fmt"

// TriggerError reports that the interrupt trigger could not be asserted. The
// register change that caused the interrupt has already been applied.
type TriggerError struct {
	Err error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("uart: trigger interrupt: %v", e.Err)
}

func (e *TriggerError) Unwrap() error { return e.Err }

// OutputError reports that a transmitted byte could not be written to or
// flushed from the output sink.
type OutputError struct {
	Err error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("uart: write output: %v", e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }
