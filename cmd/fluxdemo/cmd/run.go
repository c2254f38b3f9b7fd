package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	flux "github.com/nodelift/flux"
	"github.com/nodelift/flux/channel"
	"github.com/nodelift/flux/observability"
	"github.com/nodelift/flux/pipeline"
	"github.com/nodelift/flux/services"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a two-stage pipeline over a handful of integers and print the result",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().Int("workers", 2, "workers per pipeline stage")
	runCmd.Flags().Int("count", 10, "how many integers to feed through the pipeline")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	otlpEndpoint := viper.GetString("otlp-endpoint")
	if v, _ := cmd.Flags().GetString("otlp-endpoint"); v != "" {
		otlpEndpoint = v
	}
	providers, err := observability.Setup(ctx, otlpEndpoint, "fluxdemo")
	if err != nil {
		return fmt.Errorf("set up observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(os.Stderr, "fluxdemo: shutdown:", err)
		}
	}()

	workers, _ := cmd.Flags().GetInt("workers")
	count, _ := cmd.Flags().GetInt("count")

	rt := flux.NewRuntime(flux.NewContext())
	layer := widenLayer[error](observability.ObservabilityLayer(providers, "fluxdemo").
		Then(services.SystemClockLayer()))
	exit := flux.Run(rt, ctx, flux.ProvideLayer(pipelineDemo(workers, count), layer))

	if exit.IsFailure() {
		cause, _ := exit.Cause()
		return fmt.Errorf("pipeline run failed: %s", cause.PrettyRender())
	}
	results, _ := exit.Value()
	fmt.Println("results:", results)
	return nil
}

// widenLayer lifts a Layer known to never fail into one reporting
// failures as E, so it can be [flux.Layer.Then]'d or [flux.ProvideLayer]'d
// alongside layers and Computations that do fail, the same Never-to-E
// boundary crossing [flux.FoldEffect] exists for.
func widenLayer[E any](l flux.Layer[flux.Never]) flux.Layer[E] {
	return flux.LayerFromComputation(flux.FoldEffect[any, flux.Never, *flux.Context, E, *flux.Context](
		flux.BuildLayer(l),
		func(flux.Never) flux.Computation[any, E, *flux.Context] { panic("fluxdemo: observed a Never failure") },
		func(ctx *flux.Context) flux.Computation[any, E, *flux.Context] { return flux.Succeed[any, E, *flux.Context](ctx) },
	))
}

// pipelineDemo builds a two-stage pipeline (double, then format as a
// string) fed by count integers, returning the collected output. It
// logs through the environment's observability.Logger, the same
// service the pipeline's own stage errors would be reported through in
// a larger program.
func pipelineDemo(workers, count int) flux.Computation[any, error, []string] {
	return bridgeNever(flux.Service[any](observability.LoggerTag), func(log observability.Logger) flux.Computation[any, error, []string] {
		in := channel.New[int](count)
		for i := 1; i <= count; i++ {
			in.TrySend(i)
		}
		in.Close()

		doubled := pipeline.NewStage(func(n int) (int, error) {
			return n * 2, nil
		}).WithWorkers(workers)

		var mu sync.Mutex
		var collected []string
		formatted := pipeline.NewStage(func(n int) (string, error) {
			s := fmt.Sprintf("doubled=%d", n)
			mu.Lock()
			collected = append(collected, s)
			mu.Unlock()
			return s, nil
		}).WithWorkers(workers).WithOutCapacity(count)

		p := pipeline.Via(pipeline.Via(pipeline.Source[any](in), doubled), formatted)

		return flux.FlatMap(pipeline.Run[any](p), func(struct{}) flux.Computation[any, error, []string] {
			log.Info("pipeline finished", map[string]any{"count": count})
			mu.Lock()
			defer mu.Unlock()
			return flux.Succeed[any, error, []string](collected)
		})
	})
}

// bridgeNever lets a Computation known to never fail (Service, RefGet,
// Fork, ...) feed a continuation typed for E, the same boundary flux's
// own pipeline.go crosses via FoldEffect wherever a Never-typed
// Computation needs to sit in an error-typed chain.
func bridgeNever[A, B any](comp flux.Computation[any, flux.Never, A], f func(A) flux.Computation[any, error, B]) flux.Computation[any, error, B] {
	return flux.FoldEffect[any, flux.Never, A, error, B](comp,
		func(flux.Never) flux.Computation[any, error, B] { panic("fluxdemo: observed a Never failure") },
		f,
	)
}
