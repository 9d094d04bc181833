package gcodesource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringListSource_IteratesInOrder(t *testing.T) {
	src := NewStringListSource([]string{"G28", "G1 X10", "M2"})

	assert.Equal(t, 3, src.LineCount())

	line, ok := src.Next()
	assert.True(t, ok)
	assert.Equal(t, "G28", line)

	line, ok = src.Next()
	assert.True(t, ok)
	assert.Equal(t, "G1 X10", line)

	line, ok = src.Next()
	assert.True(t, ok)
	assert.Equal(t, "M2", line)

	_, ok = src.Next()
	assert.False(t, ok)
}

func TestStringListSource_Rewind(t *testing.T) {
	src := NewStringListSource([]string{"G28", "M2"})

	src.Next()
	src.Next()
	_, ok := src.Next()
	assert.False(t, ok)

	src.Rewind()
	line, ok := src.Next()
	assert.True(t, ok)
	assert.Equal(t, "G28", line)
}

func TestStringListSource_CopiesInput(t *testing.T) {
	lines := []string{"G28"}
	src := NewStringListSource(lines)
	lines[0] = "mutated"

	line, _ := src.Next()
	assert.Equal(t, "G28", line)
}
