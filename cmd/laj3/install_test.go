package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	addr, project, err := parseTarget("build.example.com:7437/app")
	require.NoError(t, err)
	assert.Equal(t, "build.example.com:7437", addr)
	assert.Equal(t, "app", project)
}

func TestParseTargetInvalid(t *testing.T) {
	for _, target := range []string{"", "hostonly:7437", "/app", "host:7437/"} {
		_, _, err := parseTarget(target)
		assert.Error(t, err, "target %q", target)
	}
}
