package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	flux "github.com/nodelift/flux"
	"github.com/nodelift/flux/fluxconfig"
)

// demoSettings is the YAML shape the config subcommand decodes, a
// stand-in for whatever a real fluxdemo-based service would want.
type demoSettings struct {
	Name    string `yaml:"name"`
	Workers int    `yaml:"workers"`
}

var demoSettingsTag = flux.NewTag[demoSettings]("fluxdemo.settings")

var configCmd = &cobra.Command{
	Use:   "config <path>",
	Short: "Load a YAML config file through fluxconfig.Layer and print it",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	rt := flux.NewRuntime(flux.NewContext())
	comp := bridgeNever(flux.Service[any](demoSettingsTag), func(s demoSettings) flux.Computation[any, error, demoSettings] {
		return flux.Succeed[any, error, demoSettings](s)
	})
	exit := flux.Run(rt, context.Background(), flux.ProvideLayer(comp, fluxconfig.Layer(args[0], demoSettingsTag)))
	if exit.IsFailure() {
		cause, _ := exit.Cause()
		return fmt.Errorf("load config: %s", cause.PrettyRender())
	}
	v, _ := exit.Value()
	fmt.Printf("name=%q workers=%d\n", v.Name, v.Workers)
	return nil
}
