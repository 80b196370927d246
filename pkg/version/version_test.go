package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semver.MatchString(Version), "got %s", Version)
}

func TestString_ContainsBuildFields(t *testing.T) {
	s := String()
	assert.Contains(t, s, "legalcodes")
	assert.Contains(t, s, Version)
	assert.Contains(t, s, "commit")
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "legalcodes/"+Version, UserAgent())
}

func TestGetInfo_JSON(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"go_version"`)
}
