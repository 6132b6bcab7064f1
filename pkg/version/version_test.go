package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	const want = "Version: 1.2.3-rc1\nBuild: abc"
	if got := v.String(); got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
}

func TestVersionBuildFixed(t *testing.T) {
	s := PktdbgVersion.String()
	if strings.Contains(s, "$Id$") {
		t.Fatalf("build ident not expanded: %q", s)
	}
	if !strings.HasPrefix(BuildInfo(), "go") {
		t.Fatalf("unexpected build info %q", BuildInfo())
	}
}
