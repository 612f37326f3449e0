package serviceerr

import (
	"errors"
	"fmt"
	"testing"
)

var errCause = errors.New("cause")

func TestNewBuildsDottedCode(t *testing.T) {
	err := New("tasks.update", "not_found", errCause)
	if CodeOf(err) != "tasks.update.not_found" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
	if !errors.Is(err, errCause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if err.Error() != "tasks.update.not_found: cause" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCodeOfFindsWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", New("chat.send", "save_failed", nil))
	if CodeOf(wrapped) != "chat.send.save_failed" {
		t.Fatalf("unexpected code %q", CodeOf(wrapped))
	}
	if CodeOf(errCause) != "" {
		t.Fatalf("expected empty code for plain errors")
	}
}
