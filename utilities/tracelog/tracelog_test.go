package tracelog

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintf__Disabled(t *testing.T) {
	var b bytes.Buffer
	defer SetLogger(log.New(&b, "", 0))()
	defer SetEnabled(false)()

	Printf("foo %s", "bar")
	assert.False(t, IsEnabled())
	assert.Empty(t, b.String())
}

func TestPrintf__Enabled(t *testing.T) {
	var b bytes.Buffer
	defer SetLogger(log.New(&b, "", 0))()
	defer SetEnabled(true)()

	Printf("freed %d blocks", 3)
	assert.True(t, IsEnabled())
	assert.Equal(t, "freed 3 blocks\n", b.String())
}

func TestSetEnabled__Undo(t *testing.T) {
	undoOuter := SetEnabled(true)
	undoInner := SetEnabled(false)
	assert.False(t, IsEnabled())
	undoInner()
	assert.True(t, IsEnabled())
	undoOuter()
}

func TestIsEnabled__Environment(t *testing.T) {
	for value, expected := range map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"1":     true,
		"yes":   true,
	} {
		t.Run("value_"+value, func(t *testing.T) {
			t.Setenv(EnvironmentVariable, value)
			defer SetEnabled(false)()
			status = stateUninitialized
			assert.Equal(t, expected, IsEnabled())
		})
	}
}
