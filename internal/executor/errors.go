package executor

import "errors"

// Domain errors for the executor package. Engine failures use the sqlerr
// taxonomy; these cover misuse of the executor itself.
var (
	// ErrTxDone is returned when a Tx is used after its body returned.
	ErrTxDone = errors.New("executor: transaction already finished")

	// ErrTxEnded is returned when a statement inside a body committed or
	// rolled back the transaction itself.
	ErrTxEnded = errors.New("executor: statement ended the transaction inside its body")

	// ErrTxLeftOpen is returned when a statement or script outside a
	// transaction body began a transaction without ending it. The
	// transaction is rolled back.
	ErrTxLeftOpen = errors.New("executor: statement left a transaction open")

	// ErrPanic wraps a panic raised while running a command or a
	// transaction body. The transaction is rolled back.
	ErrPanic = errors.New("executor: command panicked")

	// ErrUnexpectedResult is returned when a Future holds a value of a
	// different type than the convenience wrapper expected.
	ErrUnexpectedResult = errors.New("executor: unexpected command result type")
)
