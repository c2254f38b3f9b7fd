// Command fluxtop is a live fiber monitor for the flux runtime: a
// bubbletea model fed by a background goroutine via Program.Send and
// styled with lipgloss. It drives a small demo workload of fibers under
// a [flux.Supervisor] so the lifecycle events it renders are real
// runtime activity, not a simulation of one.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	flux "github.com/nodelift/flux"
)

func main() {
	events := make(chan fiberEvent, 64)
	rt := flux.NewRuntime(flux.NewContext()).WithSupervisor(flux.Supervisor{
		OnStart: func(id flux.FiberID) {
			events <- fiberEvent{id: id, kind: eventStart, at: time.Now()}
		},
		OnEnd: func(id flux.FiberID, failed bool) {
			events <- fiberEvent{id: id, kind: eventEnd, failed: failed, at: time.Now()}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	program := tea.NewProgram(newModel())
	go pumpEvents(events, program)
	go func() {
		flux.Run(rt, ctx, workload())
		program.Send(msgWorkloadDone{})
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "fluxtop:", err)
		os.Exit(1)
	}
}

// pumpEvents relays fiber lifecycle events from the Supervisor's channel
// to the bubbletea program as tea.Msgs, the standard way to feed
// progress into a bubbletea model from outside its Update loop.
func pumpEvents(events <-chan fiberEvent, program *tea.Program) {
	for e := range events {
		program.Send(e)
	}
}

// workload forks a handful of fibers with randomized durations, one of
// which deliberately fails, so the monitor has both completions and a
// failure to render.
func workload() flux.Computation[any, flux.Never, struct{}] {
	const n = 8
	fibers := make([]flux.Computation[any, flux.Never, *flux.Fiber[error, struct{}]], n)
	for i := 0; i < n; i++ {
		i := i
		fibers[i] = flux.Fork[any, error, struct{}](flux.FromFuture[any, struct{}](func(ctx context.Context) (struct{}, error) {
			d := time.Duration(300+rand.IntN(1500)) * time.Millisecond
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return struct{}{}, ctx.Err()
			}
			if i == 3 {
				return struct{}{}, fmt.Errorf("worker %d: simulated failure", i)
			}
			return struct{}{}, nil
		}))
	}

	return flux.FlatMap(sequenceFork(fibers), func(forked []*flux.Fiber[error, struct{}]) flux.Computation[any, flux.Never, struct{}] {
		return joinAllIgnoring(forked)
	})
}

func sequenceFork(comps []flux.Computation[any, flux.Never, *flux.Fiber[error, struct{}]]) flux.Computation[any, flux.Never, []*flux.Fiber[error, struct{}]] {
	acc := flux.Succeed[any, flux.Never, []*flux.Fiber[error, struct{}]](nil)
	for _, c := range comps {
		c := c
		acc = flux.FlatMap(acc, func(fs []*flux.Fiber[error, struct{}]) flux.Computation[any, flux.Never, []*flux.Fiber[error, struct{}]] {
			return flux.Map(c, func(f *flux.Fiber[error, struct{}]) []*flux.Fiber[error, struct{}] {
				return append(fs, f)
			})
		})
	}
	return acc
}

func joinAllIgnoring(fibers []*flux.Fiber[error, struct{}]) flux.Computation[any, flux.Never, struct{}] {
	acc := flux.Succeed[any, flux.Never, struct{}](struct{}{})
	for _, f := range fibers {
		f := f
		acc = flux.FlatMap(acc, func(struct{}) flux.Computation[any, flux.Never, struct{}] {
			return flux.Fold(flux.Join[any, error, struct{}](f), func(error) struct{} { return struct{}{} }, func(struct{}) struct{} { return struct{}{} })
		})
	}
	return acc
}

type eventKind int

const (
	eventStart eventKind = iota
	eventEnd
)

type fiberEvent struct {
	id     flux.FiberID
	kind   eventKind
	failed bool
	at     time.Time
}

type msgWorkloadDone struct{}

type fiberState struct {
	id       flux.FiberID
	started  time.Time
	finished bool
	failed   bool
}

// model is the bubbletea model, styled with a muted/accent/success/danger
// palette.
type model struct {
	fibers map[flux.FiberID]*fiberState
	order  []flux.FiberID
	done   bool
	start  time.Time
}

func newModel() model {
	return model{fibers: map[flux.FiberID]*fiberState{}, start: time.Now()}
}

var (
	colorAccent  = lipgloss.Color("#FFD700")
	colorSuccess = lipgloss.Color("#00E676")
	colorDanger  = lipgloss.Color("#FF5252")
	colorMuted   = lipgloss.Color("#8C8C8C")
	colorBlue    = lipgloss.Color("#5B8DEF")

	styleTitle   = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleActive  = lipgloss.NewStyle().Foreground(colorBlue)
	styleDone    = lipgloss.NewStyle().Foreground(colorSuccess)
	styleFailed  = lipgloss.NewStyle().Foreground(colorDanger)
)

func (m model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(time.Time) tea.Msg { return msgTick{} })
}

type msgTick struct{}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case fiberEvent:
		switch msg.kind {
		case eventStart:
			m.fibers[msg.id] = &fiberState{id: msg.id, started: msg.at}
			m.order = append(m.order, msg.id)
		case eventEnd:
			if st, ok := m.fibers[msg.id]; ok {
				st.finished = true
				st.failed = msg.failed
			}
		}
	case msgWorkloadDone:
		m.done = true
	case msgTick:
		if m.done {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	sorted := append([]flux.FiberID{}, m.order...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var active, completed, failed int
	lines := make([]string, 0, len(sorted))
	for _, id := range sorted {
		st := m.fibers[id]
		elapsed := time.Since(st.started).Round(10 * time.Millisecond)
		switch {
		case !st.finished:
			active++
			lines = append(lines, styleActive.Render(fmt.Sprintf("  fiber %-3d running   %v", id, elapsed)))
		case st.failed:
			failed++
			lines = append(lines, styleFailed.Render(fmt.Sprintf("  fiber %-3d failed    %v", id, elapsed)))
		default:
			completed++
			lines = append(lines, styleDone.Render(fmt.Sprintf("  fiber %-3d completed %v", id, elapsed)))
		}
	}

	header := styleTitle.Render("fluxtop") + styleMuted.Render(fmt.Sprintf("  uptime=%v", time.Since(m.start).Round(time.Second)))
	summary := fmt.Sprintf("active=%d completed=%d failed=%d", active, completed, failed)
	footer := styleMuted.Render("press q to quit")
	if m.done {
		footer = styleMuted.Render("workload finished, press q to quit")
	}

	out := header + "\n" + summary + "\n\n"
	for _, l := range lines {
		out += l + "\n"
	}
	out += "\n" + footer + "\n"
	return out
}
