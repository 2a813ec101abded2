package models

import (
	"errors"
	"testing"
)

func TestErrorKind_Repairable(t *testing.T) {
	repairable := []ErrorKind{
		ErrScriptInvalid, ErrScriptRuntime, ErrSecurityViolation,
		ErrScriptTimeout, ErrScriptHung, ErrResourceLimit,
	}
	for _, k := range repairable {
		if !k.Repairable() {
			t.Errorf("ErrorKind(%s).Repairable() = false, want true", k)
		}
	}

	notRepairable := []ErrorKind{ErrToolForbidden, ErrQueueFull, ErrUnrepairable}
	for _, k := range notRepairable {
		if k.Repairable() {
			t.Errorf("ErrorKind(%s).Repairable() = true, want false", k)
		}
	}
}

func TestCoreError_UnwrapAndAs(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapCoreError(ErrEmbedUnavailable, "embedding backend unreachable", cause)

	var core *CoreError
	if !errors.As(err, &core) {
		t.Fatal("errors.As() = false, want true")
	}
	if core.Kind != ErrEmbedUnavailable {
		t.Errorf("Kind = %v, want %v", core.Kind, ErrEmbedUnavailable)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}
