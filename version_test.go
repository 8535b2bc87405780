package roundtable

import (
	"regexp"
	"testing"
)

func TestVersionIsSemver(t *testing.T) {
	t.Parallel()

	if !regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.]+)?$`).MatchString(Version) {
		t.Errorf("Version = %q, want semver", Version)
	}
}
