package fluxconfig

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	flux "github.com/nodelift/flux"
	"github.com/nodelift/flux/channel"
)

// Reload describes one successful or failed re-decode of a watched
// config file. Generation is a fresh ID per attempt (including failed
// ones), so logs and metrics can correlate a reload attempt with
// whatever it did or didn't change, the way a request ID would.
type Reload[T any] struct {
	Generation uuid.UUID
	Config     T
	Err        error
}

// Watcher watches one YAML file and decodes it into T on every write,
// publishing each attempt on Reloads, debouncing bursts of writes into
// a single reload.
type Watcher[T any] struct {
	path     string
	fsw      *fsnotify.Watcher
	reloads  *channel.Channel[Reload[T]]
	done     chan struct{}
	debounce time.Duration
}

// NewWatcher opens an fsnotify watch on path. It does not read the file
// or start decoding until [Watcher.Start] is called.
func NewWatcher[T any](path string) (*Watcher[T], error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fluxconfig: new watcher: %w", err)
	}
	return &Watcher[T]{
		path:     path,
		fsw:      fsw,
		reloads:  channel.New[Reload[T]](8),
		done:     make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Reloads returns the channel every decode attempt (success or failure)
// is published on, starting with nothing until [Watcher.Start] runs.
func (w *Watcher[T]) Reloads() *channel.Channel[Reload[T]] { return w.reloads }

// Start begins watching the file's directory (fsnotify watches
// directories, not bare files, to survive editors that replace the
// file via rename-on-save) and decoding it on every debounced write.
func (w *Watcher[T]) Start() error {
	dir, err := watchDir(w.path)
	if err != nil {
		return err
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("fluxconfig: watch %s: %w", dir, err)
	}
	go w.loop()
	return nil
}

// Stop closes the underlying fsnotify watcher and the output channel,
// after the watch loop has drained.
func (w *Watcher[T]) Stop() {
	w.fsw.Close()
	<-w.done
	w.reloads.Close()
}

func (w *Watcher[T]) loop() {
	defer close(w.done)

	var pending bool
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if matchesPath(event.Name, w.path) && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				pending = true
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			if pending {
				pending = false
				w.emit()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher[T]) emit() {
	cfg, err := Load[T](w.path)
	w.reloads.TrySend(Reload[T]{Generation: uuid.New(), Config: cfg, Err: err})
}

// HotReloadLayer builds a Layer from the file's current contents and
// returns a [flux.Ref] kept in sync with every subsequent successful
// reload published by w. Failed reloads are left to the caller to
// observe via [Watcher.Reloads] directly (a bad edit should not
// silently blow away the last good config in the Ref). The returned
// Layer registers the same Ref under tag, so Computations that read
// tag always see the live value rather than a stale snapshot taken at
// layer-build time.
func HotReloadLayer[T any](w *Watcher[T], tag flux.Tag[*flux.Ref[T]]) (flux.Layer[error], *flux.Ref[T], error) {
	initial, err := Load[T](w.path)
	if err != nil {
		var zero *flux.Ref[T]
		return flux.Layer[error]{}, zero, fmt.Errorf("fluxconfig: initial load: %w", err)
	}
	ref := flux.NewRef(initial)

	buildCtx := flux.Map(flux.Fork(syncLoop(w, ref)), func(*flux.Fiber[flux.Never, struct{}]) *flux.Context {
		return flux.ContextAdd(flux.NewContext(), tag, ref)
	})
	layer := flux.LayerFromComputation(flux.FoldEffect[any, flux.Never, *flux.Context, error, *flux.Context](
		buildCtx,
		func(flux.Never) flux.Computation[any, error, *flux.Context] { panic("fluxconfig: observed a Never failure") },
		func(ctx *flux.Context) flux.Computation[any, error, *flux.Context] {
			return flux.Succeed[any, error, *flux.Context](ctx)
		},
	))
	return layer, ref, nil
}

// syncLoop forever receives reloads from w and, for successful ones,
// writes the decoded value into ref. It runs as a forked background
// fiber for the lifetime of the layer's scope and never itself fails:
// a failed reload is dropped (the previous value in ref stands) rather
// than torn down.
func syncLoop[T any](w *Watcher[T], ref *flux.Ref[T]) flux.Computation[any, flux.Never, struct{}] {
	step := flux.FoldEffect[any, error, Reload[T], flux.Never, bool](
		channel.Receive[any, Reload[T]](w.reloads),
		func(error) flux.Computation[any, flux.Never, bool] {
			return flux.Succeed[any, flux.Never, bool](false)
		},
		func(r Reload[T]) flux.Computation[any, flux.Never, bool] {
			if r.Err != nil {
				return flux.Succeed[any, flux.Never, bool](true)
			}
			return flux.Map(flux.RefSet[any](ref, r.Config), func(struct{}) bool { return true })
		},
	)
	looping := flux.Repeat[any, flux.Never, bool, int](step, flux.WhileInput(flux.Spaced[bool](0), func(v bool) bool { return v }))
	return flux.Map(looping, func(int) struct{} { return struct{}{} })
}

func matchesPath(eventPath, watched string) bool {
	return eventPath == watched || filepath.Base(eventPath) == filepath.Base(watched)
}

func watchDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("fluxconfig: resolve %s: %w", path, err)
	}
	return filepath.Dir(abs), nil
}
