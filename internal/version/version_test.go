package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	defer func(v, c, d string) { Version, Commit, BuildDate = v, c, d }(Version, Commit, BuildDate)

	assert.Equal(t, "xensuspend dev (commit unknown, built unknown)", String())

	Version, Commit, BuildDate = "1.2.0", "3f9c2a7e5b1d8c4f0a6e", "2026-05-01T10:00:00Z"
	assert.Equal(t, "3f9c2a7e5b1d", ShortCommit())
	assert.Equal(t, "xensuspend 1.2.0 (commit 3f9c2a7e5b1d, built 2026-05-01T10:00:00Z)", String())
}
