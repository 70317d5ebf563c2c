package invoke

import (
	"errors"
	"fmt"
	"testing"
)

// TestDispatchError_Error verifies error message formatting
func TestDispatchError_Error(t *testing.T) {
	err := &DispatchError{
		Driver: "http",
		FileID: "file-7",
		Err:    errors.New("connection refused"),
	}

	expected := "failed to dispatch download file-7 via http: connection refused"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestDispatchError_Unwrap verifies error chain traversal
func TestDispatchError_Unwrap(t *testing.T) {
	cause := errors.New("broker unavailable")
	err := &DispatchError{
		Driver: "amqp",
		FileID: "file-7",
		Err:    cause,
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	// Verify errors.Is works through the chain
	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

// TestDispatchError_As verifies programmatic error type detection
func TestDispatchError_As(t *testing.T) {
	originalErr := &DispatchError{
		Driver: "http",
		FileID: "file-9",
		Err:    errors.New("unexpected status code: 503"),
	}

	wrapped := fmt.Errorf("context: %w", originalErr)

	var target *DispatchError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract DispatchError from wrapped chain")
	}

	if target.FileID != "file-9" {
		t.Errorf("FileID = %q, want %q", target.FileID, "file-9")
	}
	if target.Driver != "http" {
		t.Errorf("Driver = %q, want %q", target.Driver, "http")
	}
}

// TestDispatchError_Nil verifies nil error handling
func TestDispatchError_Nil(t *testing.T) {
	err := &DispatchError{Driver: "http", FileID: "file-1", Err: nil}

	if unwrapped := errors.Unwrap(err); unwrapped != nil {
		t.Errorf("Unwrap() = %v, want nil", unwrapped)
	}

	if errMsg := err.Error(); errMsg == "" {
		t.Error("Error() should return non-empty string even when Err is nil")
	}
}
