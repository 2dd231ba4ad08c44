package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
	emailPattern    = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	domainPattern   = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{4,20}$`)
)

// ValidateTarget checks and canonicalizes a target for the given type. Every
// returned value is safe to place in an argument vector: it is non-empty and
// never starts with "-".
func ValidateTarget(kind models.TargetType, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty %s", utils.ErrInvalidTarget, kind)
	}
	if strings.HasPrefix(value, "-") {
		return "", fmt.Errorf("%w: %s must not start with '-'", utils.ErrInvalidTarget, kind)
	}

	switch kind {
	case models.TargetUsername:
		if strings.Contains(value, "..") || strings.HasPrefix(value, ".") {
			return "", fmt.Errorf("%w: username contains a path sequence", utils.ErrInvalidTarget)
		}
		if !usernamePattern.MatchString(value) {
			return "", fmt.Errorf("%w: username may only contain letters, digits, '.', '_' and '-' (max 100)", utils.ErrInvalidTarget)
		}
		return value, nil

	case models.TargetEmail:
		value = strings.ToLower(value)
		if len(value) > 254 || !emailPattern.MatchString(value) {
			return "", fmt.Errorf("%w: malformed email %q", utils.ErrInvalidTarget, value)
		}
		return value, nil

	case models.TargetDomain:
		value = strings.TrimSuffix(strings.ToLower(value), ".")
		if len(value) > 253 || !domainPattern.MatchString(value) {
			return "", fmt.Errorf("%w: malformed domain %q", utils.ErrInvalidTarget, value)
		}
		return value, nil

	case models.TargetPhone:
		compact := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(value)
		if !phonePattern.MatchString(compact) {
			return "", fmt.Errorf("%w: phone must be digits with an optional leading '+'", utils.ErrInvalidTarget)
		}
		return compact, nil

	case models.TargetFile:
		abs, err := filepath.Abs(value)
		if err != nil {
			return "", fmt.Errorf("%w: %v", utils.ErrInvalidTarget, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("%w: %v", utils.ErrInvalidTarget, err)
		}
		if !info.Mode().IsRegular() {
			return "", fmt.Errorf("%w: %s is not a regular file", utils.ErrInvalidTarget, abs)
		}
		if info.Size() > executor.MaxInputFileBytes {
			return "", fmt.Errorf("%w: %s exceeds %d bytes", utils.ErrInvalidTarget, abs, executor.MaxInputFileBytes)
		}
		return abs, nil
	}
	return "", fmt.Errorf("%w: unsupported target type %q", utils.ErrInvalidTarget, kind)
}

// inputName is the in-container name of a copied input file. Only the
// extension of the host name survives so tools can sniff the format.
func inputName(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if len(ext) > 10 || strings.ContainsAny(ext, " /\\") {
		ext = ""
	}
	return "input" + ext
}
