// Package fluxconfig reads a YAML document into a typed struct and
// exposes it to flux Computations as a Layer, with an optional
// fsnotify-backed watcher that re-decodes the file on every change and
// republishes it through a flux.Ref any running Computation can read.
// Config structs decode statically via gopkg.in/yaml.v3 rather than
// through a dynamic key/value store, since flux's services are resolved
// by [flux.Tag] rather than by string key.
package fluxconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	flux "github.com/nodelift/flux"
)

// Load reads path and decodes it as YAML into a zero value of T.
func Load[T any](path string) (T, error) {
	var cfg T
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("fluxconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("fluxconfig: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Layer builds a flux.Layer that loads path once at acquisition time and
// registers the decoded value under tag. Acquisition fails (rather than
// panicking, the way a missing [flux.Service] would), since a bad config
// file is an expected, typed failure rather than a programming defect.
func Layer[T any](path string, tag flux.Tag[T]) flux.Layer[error] {
	return flux.LayerFromComputation(flux.FlatMap(
		flux.Attempt[any, T](func() (T, error) { return Load[T](path) }),
		func(cfg T) flux.Computation[any, error, *flux.Context] {
			return flux.Succeed[any, error, *flux.Context](flux.ContextAdd(flux.NewContext(), tag, cfg))
		},
	))
}
