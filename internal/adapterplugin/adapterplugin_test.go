package adapterplugin

import "testing"

func TestAvailableFalseForUnknownPlatform(t *testing.T) {
	if Available("definitely-not-a-real-platform-xyz") {
		t.Fatal("expected no plugin binary to be found on PATH")
	}
}

func TestNewFailsWhenBinaryMissing(t *testing.T) {
	if _, err := New("definitely-not-a-real-platform-xyz", 0, nil); err == nil {
		t.Fatal("expected an error when no plugin binary is on PATH")
	}
}
