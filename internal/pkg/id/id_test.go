package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Unique(t *testing.T) {
	assert.NotEqual(t, New(), New())
	assert.Len(t, New(), 26)
}

func TestObjectKey(t *testing.T) {
	k := ObjectKey("images/", "../../Lobby Photo (1).JPG")
	assert.True(t, strings.HasPrefix(k, "images/"))
	assert.True(t, strings.HasSuffix(k, "-lobby-photo-1-.jpg"), k)
	assert.NotContains(t, k, "..")

	assert.True(t, strings.HasSuffix(ObjectKey("images", "???"), "-file"))
}
