package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputRecord_CopiesMetadata(t *testing.T) {
	md := map[string]any{"host": "web-1"}
	r := NewInputRecord("line", md)
	md["host"] = "changed"

	v, ok := r.Get("host")
	assert.True(t, ok)
	assert.Equal(t, "web-1", v)
	assert.Equal(t, "line", r.Message())
}

func TestInputRecord_MapMessageShadowsMetadata(t *testing.T) {
	r := NewInputRecord("raw", map[string]any{"message": "other", "n": 1})
	m := r.Map()
	assert.Equal(t, "raw", m["message"])
	assert.Equal(t, 1, m["n"])

	m["n"] = 2
	v, _ := r.Get("n")
	assert.Equal(t, 1, v)
}
