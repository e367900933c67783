//go:build darwin

package credential

import (
	"errors"
	"os/exec"
	"strings"
)

var errKeychainUnavailable = errors.New("macOS Keychain unavailable (security(1) not found or failed)")

// keychainSet stores field (e.g. "token", "username") for h's platform
// under the shipctl service entry in the macOS Keychain.
func keychainSet(h Handle, field, value string) error {
	account := h.Platform + "." + field
	cmd := exec.Command("security", "add-generic-password",
		"-s", keychainService,
		"-a", account,
		"-w", value,
		"-U", // update if exists
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "could not be found") {
			_ = keychainDelete(h, field)
			return keychainSet(h, field, value)
		}
		return errors.Join(errKeychainUnavailable, err, keychainErrOutput(out))
	}
	return nil
}

func keychainGet(h Handle, field string) (string, error) {
	account := h.Platform + "." + field
	cmd := exec.Command("security", "find-generic-password",
		"-s", keychainService,
		"-a", account,
		"-w",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "could not be found") {
			return "", nil
		}
		return "", errors.Join(errKeychainUnavailable, err, keychainErrOutput(out))
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func keychainDelete(h Handle, field string) error {
	account := h.Platform + "." + field
	cmd := exec.Command("security", "delete-generic-password",
		"-s", keychainService,
		"-a", account,
	)
	_ = cmd.Run() // ignore error (e.g. item not found)
	return nil
}

func keychainAvailable() bool {
	_, err := exec.LookPath("security")
	return err == nil
}

func keychainErrOutput(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return errors.New(strings.TrimSpace(string(b)))
}
