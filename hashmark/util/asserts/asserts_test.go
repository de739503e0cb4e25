package asserts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoErr(t *testing.T) {
	assert.PanicsWithError(t, "x", func() { NoErr(errors.New("x")) })
	assert.NotPanics(t, func() { NoErr(nil) })
}
