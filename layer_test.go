package flux_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flux "github.com/nodelift/flux"
)

var greetingTag = flux.NewTag[string]("test.greeting")
var layerCountTag = flux.NewTag[int]("test.layer-count")

func TestLayerThenMergesAndShadows(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())

	base := flux.LayerSucceed[error](flux.ContextAdd(flux.NewContext(), greetingTag, "hi"))
	extra := flux.LayerSucceed[error](flux.ContextAdd(flux.NewContext(), layerCountTag, 1))
	shadow := flux.LayerSucceed[error](flux.ContextAdd(flux.NewContext(), greetingTag, "hello"))

	combined := base.Then(extra).Then(shadow)

	readEnv := flux.FoldEffect[any, flux.Never, *flux.Context, error, string](
		flux.Environment[any](),
		func(flux.Never) flux.Computation[any, error, string] { panic("unreachable") },
		func(env *flux.Context) flux.Computation[any, error, string] {
			greeting := flux.ContextGet(env, greetingTag)
			count := flux.ContextGet(env, layerCountTag)
			return flux.Succeed[any, error, string](greeting + "-" + strconv.Itoa(count))
		},
	)
	comp := flux.ProvideLayer(readEnv, combined)

	exit := flux.Run(rt, context.Background(), comp)
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, "hello-1", v)
}

func TestLayerFailShortCircuitsThen(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("layer boom")

	failing := flux.LayerFail[error](boom)
	never := flux.LayerSucceed[error](flux.NewContext())

	built := flux.BuildLayer(failing.Then(never))
	exit := flux.Run(rt, context.Background(), built)
	require.True(t, exit.IsFailure())
	cause, _ := exit.Cause()
	fv, _ := cause.FailureValue()
	assert.ErrorIs(t, fv, boom)
}

func TestLayerAndRightWinsOnConflict(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())

	left := flux.LayerSucceed[error](flux.ContextAdd(flux.NewContext(), greetingTag, "left"))
	right := flux.LayerSucceed[error](flux.ContextAdd(flux.NewContext(), greetingTag, "right"))

	built := flux.BuildLayer(left.And(right))
	exit := flux.Run(rt, context.Background(), built)
	require.True(t, exit.IsSuccess())
	ctx, _ := exit.Value()
	assert.Equal(t, "right", flux.ContextGet(ctx, greetingTag))
}

func TestProvideScopedTearsDownAsSoonAsOperationCompletes(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	var released bool

	layer := flux.LayerFromComputation[any, error](flux.AcquireRelease(
		flux.Succeed[any, error, *flux.Context](flux.ContextAdd(flux.NewContext(), greetingTag, "scoped")),
		func(*flux.Context) flux.Computation[any, flux.Never, struct{}] {
			return flux.Sync[any, flux.Never, struct{}](func() struct{} {
				released = true
				return struct{}{}
			})
		},
	))

	readEnv := flux.FoldEffect[any, flux.Never, *flux.Context, error, string](
		flux.Environment[any](),
		func(flux.Never) flux.Computation[any, error, string] { panic("unreachable") },
		func(env *flux.Context) flux.Computation[any, error, string] {
			assert.False(t, released, "layer must still be alive while the provided computation runs")
			return flux.Succeed[any, error, string](flux.ContextGet(env, greetingTag))
		},
	)

	exit := flux.Run(rt, context.Background(), flux.ProvideScoped(readEnv, layer))
	require.True(t, exit.IsSuccess())
	v, _ := exit.Value()
	assert.Equal(t, "scoped", v)
	assert.True(t, released, "ProvideScoped should tear down its layer as soon as the operation completes, not wait for the ambient scope")
}

func TestProvideScopedPropagatesLayerBuildFailure(t *testing.T) {
	rt := flux.NewRuntime(flux.NewContext())
	boom := errors.New("scoped layer boom")

	comp := flux.ProvideScoped(flux.Succeed[any, error, int](0), flux.LayerFail[error](boom))
	exit := flux.Run(rt, context.Background(), comp)
	require.True(t, exit.IsFailure())
	cause, _ := exit.Cause()
	fv, _ := cause.FailureValue()
	assert.ErrorIs(t, fv, boom)
}
