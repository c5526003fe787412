package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	assert.Equal(t, "Version: 1.2.3-rc1\nBuild: abcdef", v.String())
	assert.Equal(t, "1.2.3-rc1", v.Short())
	assert.Equal(t, "0.3.0", Version{Major: "0", Minor: "3", Patch: "0"}.Short())
}

func TestBuildInfo(t *testing.T) {
	assert.Contains(t, BuildInfo(), runtime.Version())
}
