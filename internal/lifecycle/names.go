package lifecycle

import (
	"strings"
	"unicode"

	"github.com/loykin/craftd/internal/errs"
)

const maxNameLen = 64

// ValidateName accepts names usable as a directory, a session suffix and a
// JVM property value. Spaces are allowed.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errs.Validation("server name is empty")
	}
	if len(name) > maxNameLen {
		return errs.Validation("server name longer than %d bytes", maxNameLen)
	}
	if name != strings.TrimSpace(name) {
		return errs.Validation("server name %q has leading or trailing space", name)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return errs.Validation("server name %q is reserved", name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == ':' || r == '"' || unicode.IsControl(r) {
			return errs.Validation("server name %q contains %q", name, r)
		}
	}
	return nil
}
