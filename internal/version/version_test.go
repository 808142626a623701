package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	v, commit, date := Info()
	s := String()
	assert.Contains(t, s, "qrlens "+v)
	assert.Contains(t, s, commit)
	assert.Contains(t, s, date)
}
