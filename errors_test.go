package macho

import (
	"errors"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("boom")

	tests := []struct {
		name string
		err  error
	}{
		{"compatibility", newCompatibilityError("detect magic", inner)},
		{"invalid binary", newInvalidBinaryError("parse exports trie", inner)},
		{"operation", newOperationError("read 4 bytes at offset 0", inner)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, inner) {
				t.Errorf("%v does not unwrap to the inner error", tt.err)
			}
			if tt.err.Error() == "" {
				t.Errorf("Error() returned an empty string")
			}
		})
	}
}

func TestErrorWithoutInner(t *testing.T) {
	err := newInvalidBinaryError("load command region truncated", nil)
	if err.Error() == "" {
		t.Error("Error() returned an empty string with a nil inner error")
	}
	if errors.Unwrap(err) != nil {
		t.Error("Unwrap() of a nil-inner error should be nil")
	}
}
