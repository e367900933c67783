//go:build linux

package credential

import (
	"errors"
	"os/exec"
	"strings"
)

var errKeychainUnavailable = errors.New("Secret Service unavailable (secret-tool not found or failed)")

// keychainSet stores field (e.g. "token", "username") for h's platform
// under the shipctl service entry via the Secret Service (secret-tool).
func keychainSet(h Handle, field, value string) error {
	account := h.Platform + "." + field
	cmd := exec.Command("secret-tool", "store", "--label=shipctl", "service", keychainService, "account", account)
	cmd.Stdin = strings.NewReader(value)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Join(errKeychainUnavailable, err, keychainErrOutput(out))
	}
	return nil
}

func keychainGet(h Handle, field string) (string, error) {
	account := h.Platform + "." + field
	cmd := exec.Command("secret-tool", "lookup", "service", keychainService, "account", account)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if cmd.ProcessState != nil && !cmd.ProcessState.Success() && strings.Contains(string(out), "No matching secret") {
			return "", nil
		}
		return "", errors.Join(errKeychainUnavailable, err, keychainErrOutput(out))
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func keychainDelete(h Handle, field string) error {
	account := h.Platform + "." + field
	cmd := exec.Command("secret-tool", "clear", "service", keychainService, "account", account)
	_ = cmd.Run()
	return nil
}

func keychainAvailable() bool {
	_, err := exec.LookPath("secret-tool")
	return err == nil
}

func keychainErrOutput(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return errors.New(strings.TrimSpace(string(b)))
}
