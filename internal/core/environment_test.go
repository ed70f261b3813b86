package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvironment(t *testing.T) {
	tests := map[string]Environment{
		"production":  Production,
		"staging":     Staging,
		"testing":     Testing,
		"development": Development,
		"":            Development,
		"qa":          Development,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseEnvironment(in), in)
	}
}

func TestEnvironmentDecode(t *testing.T) {
	var env Environment
	assert.NoError(t, env.Decode("production"))
	assert.True(t, env.IsProduction())
	assert.Equal(t, "production", env.String())
}
