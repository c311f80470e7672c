package build

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// signingKeyOptions are cleared so a build does not need the distribution's
// signing certificates
var signingKeyOptions = []string{"CONFIG_SYSTEM_TRUSTED_KEYS", "CONFIG_SYSTEM_REVOCATION_KEYS"}

// setConfigString sets key to a quoted string in a .config, replacing an
// existing assignment or "is not set" line, or appending it
func setConfigString(cfg []byte, key, value string) []byte {
	assignment := fmt.Sprintf("%s=%q", key, value)
	lines := bytes.Split(cfg, []byte("\n"))
	for i, line := range lines {
		s := strings.TrimSpace(string(line))
		if strings.HasPrefix(s, key+"=") || s == fmt.Sprintf("# %s is not set", key) {
			lines[i] = []byte(assignment)
			return bytes.Join(lines, []byte("\n"))
		}
	}
	out := bytes.TrimRight(cfg, "\n")
	if len(out) > 0 {
		out = append(out, '\n')
	}
	return append(append(out, assignment...), '\n')
}

// clearSigningKeys rewrites a .config file without trusted/revocation keys
func clearSigningKeys(path string) error {
	cfg, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, key := range signingKeyOptions {
		cfg = setConfigString(cfg, key, "")
	}
	return os.WriteFile(path, cfg, 0644)
}
