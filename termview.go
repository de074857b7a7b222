/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/gookit/color"
)

// termView prints coordinator state as lines of text. Animation frames are
// not drawn; ticks show up as dots while the wheel turns.
type termView struct {
	out      io.Writer
	last     spinner.Snapshot
	rendered bool
	ticking  bool
}

func newTermView(out io.Writer) *termView {
	return &termView{out: out}
}

func (t *termView) Render(s spinner.Snapshot) {
	if t.rendered && !t.changed(s) {
		return
	}

	t.endTicks()

	switch {
	case !t.rendered || t.last.Version != s.Version || !slices.Equal(t.last.Names, s.Names):
		t.printRoom(s)
	case t.last.State != s.State:
		fmt.Fprintf(t.out, "%s\n", color.Gray.Sprintf("[%s]", s.State))
	}

	if s.Result != nil && (t.last.Result == nil || *t.last.Result != *s.Result) {
		fmt.Fprintf(t.out, "%s %s %s\n",
			color.Bold.Sprint(s.Result.Name),
			color.Gray.Sprint("receives"),
			color.Yellow.Sprint(s.Result.Material))
	}

	if t.rendered && t.last.Connected != s.Connected {
		if s.Connected {
			color.Fprintln(t.out, "<green>realtime connection restored</>")
		} else {
			color.Fprintln(t.out, "<red>realtime connection lost, reconnecting</>")
		}
	}

	t.last = s
	t.rendered = true
}

func (t *termView) changed(s spinner.Snapshot) bool {
	switch {
	case t.last.State != s.State,
		t.last.Version != s.Version,
		t.last.Connected != s.Connected,
		t.last.Authority != s.Authority,
		!slices.Equal(t.last.Names, s.Names):
		return true
	case (t.last.Result == nil) != (s.Result == nil):
		return true
	case s.Result != nil && *t.last.Result != *s.Result:
		return true
	}
	return false
}

func (t *termView) printRoom(s spinner.Snapshot) {
	title := s.RoomName
	if title == "" {
		title = s.RoomCode
	}

	fmt.Fprintf(t.out, "\n%s %s\n", color.Bold.Sprint(title), color.Gray.Sprintf("(%s, %s)", s.RoomCode, s.State))

	if s.State == spinner.Complete {
		color.Fprintln(t.out, "<green>every material has been assigned</>")
		return
	}

	fmt.Fprintf(t.out, "  next material: %s (%d of %d)\n",
		color.Yellow.Sprint(s.CurrentMaterial), s.CurrentMaterialIndex+1, len(s.Materials))
	fmt.Fprintf(t.out, "  on the wheel:  %s\n", strings.Join(s.Names, ", "))

	if s.Authority {
		fmt.Fprintln(t.out, color.Cyan.Sprint("  you created this room: press enter to spin"))
	}
}

func (t *termView) Notify(n spinner.Notification) {
	t.endTicks()

	switch n.Level {
	case spinner.LevelError:
		fmt.Fprintln(t.out, color.Red.Sprint("error: ")+n.Message)
	case spinner.LevelSuccess:
		fmt.Fprintln(t.out, color.Green.Sprint(n.Message))
	default:
		fmt.Fprintln(t.out, color.Cyan.Sprint(n.Message))
	}
}

func (t *termView) Cue(c spinner.Cue) {
	switch c {
	case spinner.CueStart:
		fmt.Fprint(t.out, color.Magenta.Sprint("spinning "))
		t.ticking = true
	case spinner.CueTick:
		fmt.Fprint(t.out, ".")
		t.ticking = true
	case spinner.CueCelebrate:
		t.endTicks()
		fmt.Fprint(t.out, "\a")
	}
}

func (t *termView) endTicks() {
	if t.ticking {
		fmt.Fprintln(t.out)
		t.ticking = false
	}
}
