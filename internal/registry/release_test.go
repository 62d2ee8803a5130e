//go:build !ircdebug

package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefoldCollisionKeepsOne(t *testing.T) {
	r := New[*entity](func(s string) string { return s })
	r.Upsert("Frank", newEntity)
	r.Upsert("FRANK", newEntity)
	assert.Equal(t, 2, r.Len())

	assert.NotPanics(t, func() { r.Refold(strings.ToLower) })
	assert.Equal(t, 1, r.Len())
}
