// Package status derives worker state.
//
// Record is the durable view: a fold over the oplog, cached by index so
// later calculations only read new entries. ExecutionStatus is the
// in-memory lifecycle of one running instance:
//
//	Loading -> Running -> Suspended
//	               \-> Interrupting (instance is torn down)
//
// Every phase may go back to Loading when the instance is reactivated.
package status
