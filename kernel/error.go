// Package kernel contains the types and helpers shared by every bring-up
// package.
package kernel

// Error describes a kernel error. Errors are declared as package-level
// pointers to Error values: the code that returns them runs before the Go
// allocator is available, so errors.New and fmt.Errorf are off limits.
// Callers compare errors by pointer.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
