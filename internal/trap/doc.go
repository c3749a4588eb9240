// Package trap classifies failed invocations.
//
// Program hosts report failures as *Failure values tagged with what went
// wrong. ClassifyError folds any error chain into exactly one TrapType, in
// priority order: interrupt, exit, stack overflow, out of memory, invalid
// request, and finally Unknown carrying the formatted chain.
//
//	tt := trap.ClassifyError(err)
//	switch tt.Tag {
//	case trap.TagInterrupt: // cooperative signal, see tt.Interrupt
//	case trap.TagExit:      // program exited
//	case trap.TagError:     // tt.Error is recorded in the oplog
//	}
package trap
