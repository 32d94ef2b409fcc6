package sftpshell

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"
)

// renderInterval is the redraw period when no update arrives.
const renderInterval = 100 * time.Millisecond

// Renderer redraws a progress bar for a Tracker on its own goroutine.
type Renderer struct {
	tracker *Tracker
	out     io.Writer
	label   string
	bar     progress.Model

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// StartRenderer starts drawing tracker to out and returns a handle that
// owns the goroutine. The loop ends by itself when the tracker completes;
// Stop ends it early. Either way the caller should Stop or Wait before
// discarding the handle.
func StartRenderer(tracker *Tracker, out io.Writer, label string, width int) *Renderer {
	if width <= 0 {
		width = 40
	}
	r := &Renderer{
		tracker: tracker,
		out:     out,
		label:   label,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(width)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Stop signals the loop to draw a final frame and exit, then waits for it.
// It is safe to call more than once.
func (r *Renderer) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Wait blocks until the loop has exited on its own.
func (r *Renderer) Wait() {
	<-r.done
}

// Done is closed once the loop has exited.
func (r *Renderer) Done() <-chan struct{} { return r.done }

func (r *Renderer) loop() {
	defer close(r.done)

	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()

	for {
		r.draw()
		if r.tracker.Complete() {
			fmt.Fprintln(r.out)
			return
		}
		select {
		case <-r.stop:
			r.draw()
			fmt.Fprintln(r.out)
			return
		case <-r.tracker.Changed():
		case <-ticker.C:
		}
	}
}

func (r *Renderer) draw() {
	cur, total := r.tracker.Transferred(), r.tracker.Total()
	fmt.Fprintf(r.out, "\r%s %s %s/%s", r.label, r.bar.ViewAs(fraction(cur, total)),
		humanize.Bytes(uint64(max(cur, 0))), humanize.Bytes(uint64(total)))
}

func fraction(cur, total int64) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(cur) / float64(total)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}
