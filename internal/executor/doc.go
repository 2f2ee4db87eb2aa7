// Package executor defines the contract for the external agent execution
// engine and the events it emits while a run is in flight. The engine is an
// external collaborator; this package also ships an in-process echo
// implementation for local bring-up and tests.
package executor
