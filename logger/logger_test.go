package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		l := New(env)
		assert.NotNil(t, l, env)
		_ = l.Sync()
	}
}
