package kfmt

import (
	"bytes"
	"testing"
)

func TestRegisterConsole(t *testing.T) {
	defer resetConsole()
	resetConsole()

	if err := RegisterConsole(nil); err != errNilConsole {
		t.Fatalf("expected errNilConsole; got %v", err)
	}

	if GetOutputSink() != nil {
		t.Fatal("expected no output sink before registration")
	}

	var first, second bytes.Buffer
	if err := RegisterConsole(&first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := RegisterConsole(&second); err != errConsoleRegistered {
		t.Fatalf("expected errConsoleRegistered; got %v", err)
	}

	if GetOutputSink() != &first {
		t.Fatal("expected the first console to remain registered")
	}
}
