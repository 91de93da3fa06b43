package logging

import (
	"errors"
	"io"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("cache.get", "req-1", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	err := NewOperationError("detector.detect", "req-7", io.ErrUnexpectedEOF)

	if got, want := err.Error(), "detector.detect [request req-7]: unexpected EOF"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("expected wrapped cause to be reachable")
	}

	plain := NewOperationError("detector.dial", "", io.EOF)
	if got, want := plain.Error(), "detector.dial: EOF"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
}
