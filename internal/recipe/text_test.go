package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TagKey("Dessert"), TagKey("  dessert "))
	assert.Equal(t, TagKey("Quick  Meals"), TagKey("quick meals"))
	// Precomposed and decomposed é are the same tag.
	assert.Equal(t, TagKey("Caf\u00e9"), TagKey("Cafe\u0301"))
	assert.NotEqual(t, TagKey("vegan"), TagKey("vegetarian"))
}

func TestNormalizeTagName_KeepsCase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Quick Meals", NormalizeTagName("  Quick \t Meals "))
}

func TestSearchKey(t *testing.T) {
	t.Parallel()

	key := SearchKey("Chocolate Cake", "Best CHOC dessert")
	assert.Contains(t, key, Fold("choc"))
	assert.Contains(t, key, "best choc dessert")
	assert.NotContains(t, key, "cakebest")
}

func TestIsRemoteRef(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRemoteRef("https://cdn.example.com/a.jpg"))
	assert.True(t, IsRemoteRef("HTTP://cdn.example.com/a.jpg"))
	assert.False(t, IsRemoteRef("/home/me/a.jpg"))
	assert.False(t, IsRemoteRef("file:///tmp/a.jpg"))
	assert.False(t, IsRemoteRef(""))
}
