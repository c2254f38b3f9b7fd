package flux_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	flux "github.com/nodelift/flux"
)

var (
	nameTag  = flux.NewTag[string]("context-test.name")
	countTag = flux.NewTag[int]("context-test.count")
)

func TestContextGetPanicsOnMissingService(t *testing.T) {
	ctx := flux.NewContext()
	assert.Panics(t, func() { flux.ContextGet(ctx, nameTag) })
}

func TestContextAddLeavesOriginalUnchanged(t *testing.T) {
	base := flux.NewContext()
	withName := flux.ContextAdd(base, nameTag, "alice")

	_, ok := flux.ContextLookup(base, nameTag)
	assert.False(t, ok)

	v, ok := flux.ContextLookup(withName, nameTag)
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestContextAddAccumulatesDistinctTags(t *testing.T) {
	ctx := flux.ContextAdd(flux.ContextAdd(flux.NewContext(), nameTag, "bob"), countTag, 3)

	assert.Equal(t, "bob", flux.ContextGet(ctx, nameTag))
	assert.Equal(t, 3, flux.ContextGet(ctx, countTag))
}

func TestTwoTagsOfSameTypeAndNameAreDistinct(t *testing.T) {
	tagA := flux.NewTag[string]("duplicate")
	tagB := flux.NewTag[string]("duplicate")

	ctx := flux.ContextAdd(flux.NewContext(), tagA, "from-a")
	_, ok := flux.ContextLookup(ctx, tagB)
	assert.False(t, ok)
}

func TestMergeContextOverlayWinsOnConflict(t *testing.T) {
	base := flux.ContextAdd(flux.NewContext(), nameTag, "base")
	overlay := flux.ContextAdd(flux.NewContext(), nameTag, "overlay")

	merged := flux.MergeContext(base, overlay)
	assert.Equal(t, "overlay", flux.ContextGet(merged, nameTag))
}

func TestMergeContextKeepsServicesUniqueToEachSide(t *testing.T) {
	base := flux.ContextAdd(flux.NewContext(), nameTag, "base")
	overlay := flux.ContextAdd(flux.NewContext(), countTag, 9)

	merged := flux.MergeContext(base, overlay)
	assert.Equal(t, "base", flux.ContextGet(merged, nameTag))
	assert.Equal(t, 9, flux.ContextGet(merged, countTag))
}
