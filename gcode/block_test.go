package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlock_ArgAndArgs(t *testing.T) {
	b := Block{{W: 'G', Arg: 1}, {W: 'X', Arg: 10}, {W: 'F', Arg: 600}}

	ok, v := b.Arg('X')
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)

	ok, _ = b.Arg('Z')
	assert.False(t, ok)

	assert.Equal(t, Block{{W: 'X', Arg: 10}}, b.Args())
}

func TestBlock_Validate(t *testing.T) {
	assert.NoError(t, Block{{W: 'G', Arg: 1}, {W: 'X', Arg: 10}}.Validate())
	assert.Error(t, Block{{W: 'G', Arg: 90}, {W: 'G', Arg: 91}}.Validate())
	assert.Error(t, Block{{W: 'X', Arg: 1}, {W: 'X', Arg: 2}}.Validate())
	assert.Error(t, Block{{W: '1', Arg: 0}}.Validate())
}
