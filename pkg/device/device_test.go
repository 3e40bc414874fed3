package device_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/voxwire/voxwire/pkg/device"
)

func TestDeviceError_Message(t *testing.T) {
	t.Parallel()
	err := &device.DeviceError{Op: "acquire-input", Reason: device.ReasonBusy}
	if got := err.Error(); !strings.Contains(got, "acquire-input") || !strings.Contains(got, "busy") {
		t.Errorf("message %q missing op or reason", got)
	}
}

func TestDeviceError_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("host says no")
	wrapped := fmt.Errorf("connect: %w", &device.DeviceError{
		Op:     "acquire-output",
		Reason: device.ReasonPermissionDenied,
		Err:    cause,
	})

	var de *device.DeviceError
	if !errors.As(wrapped, &de) {
		t.Fatal("errors.As failed to find DeviceError")
	}
	if de.Reason != device.ReasonPermissionDenied {
		t.Errorf("Reason: got %q, want %q", de.Reason, device.ReasonPermissionDenied)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is failed to find the host cause")
	}
}
