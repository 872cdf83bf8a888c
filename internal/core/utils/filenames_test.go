package utils_test

import (
	"media-analysis-backend/internal/core/utils"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"clip.mp4":               "clip.mp4",
		"../../etc/passwd":       "passwd",
		"C:\\Users\\me\\a b.png": "a_b.png",
		"my photo (1).jpg":       "my_photo_1_.jpg",
		"":                       utils.DefaultFilename,
		"..":                     utils.DefaultFilename,
	}

	for in, expected := range cases {
		assert.Equal(t, expected, utils.SafeFilename(in), "input %q", in)
	}
}

func TestValidIdentifier(t *testing.T) {
	for _, id := range []string{"task-1", "3f2c9a1e-uuid", "a.b_c", strings.Repeat("x", 64)} {
		assert.True(t, utils.ValidIdentifier(id, 64), "input %q", id)
	}

	for _, id := range []string{"", ".", "..", "../victim/t1", "a/b", "a\\b", "x..y", "with space", "tab\t", strings.Repeat("x", 65)} {
		assert.False(t, utils.ValidIdentifier(id, 64), "input %q", id)
	}
}
