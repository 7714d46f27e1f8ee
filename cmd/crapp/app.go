package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"crattend/internal/attendance"
	"crattend/internal/localstore"
	"crattend/internal/model"
	"crattend/internal/roster"
)

const help = `commands:
  sync                   fetch the roster (falls back to the cached copy)
  list [query]           show students, optionally filtered
  p <reg> | a <reg>      toggle present / absent
  all present|absent     mark every student
  reset                  clear every mark
  date YYYY-MM-DD        set the session date
  time HH:MM HH:MM       set start and end time
  type <code>            set the class type
  online on|off          flag an online lecture
  notes <text>           set lecture notes
  status                 show session details and counts
  submit                 lock and submit attendance
  quit`

// Remote is the attendance service as seen by the front end.
type Remote interface {
	roster.Fetcher
	attendance.Deliverer
	Health(ctx context.Context) error
}

// app is the line-oriented front end. It only parses input and renders
// state; every rule lives in the session.
type app struct {
	in       *bufio.Scanner
	out      io.Writer
	mu       sync.Mutex
	session  *attendance.Session
	provider *roster.Provider
	remote   Remote
	wait     time.Duration
	pending  <-chan attendance.Delivery
}

func newApp(in io.Reader, out io.Writer, store localstore.Store, remote Remote, timeout time.Duration) *app {
	a := &app{
		in:     bufio.NewScanner(in),
		out:    out,
		remote: remote,
		wait:   timeout,
	}
	if a.wait <= 0 {
		a.wait = 5 * time.Second
	}
	a.session = attendance.NewSession(store, remote, attendance.Options{
		Notifier:        attendance.NotifierFunc(a.notify),
		DeliveryTimeout: a.wait,
	})
	a.provider = roster.NewProvider(remote, store)
	return a
}

func (a *app) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) notify(level attendance.Level, msg string) {
	a.printf("[%s] %s\n", level, msg)
}

func (a *app) run(ctx context.Context) error {
	if err := a.session.LoadDraft(); err != nil {
		a.printf("draft not restored: %v\n", err)
	}
	a.sync(ctx)
	if a.session.Locked() {
		a.printf("Attendance for this device is already submitted and locked.\n")
	}

	a.printf("%s\n", help)
	for {
		a.printf("> ")
		line, ok := a.readLine()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if quit := a.dispatch(ctx, line); quit {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	a.drain()
	return a.in.Err()
}

func (a *app) readLine() (string, bool) {
	if !a.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(a.in.Text()), true
}

func (a *app) dispatch(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	var err error
	switch strings.ToLower(cmd) {
	case "help", "?":
		a.printf("%s\n", help)
	case "quit", "exit", "q":
		return true
	case "sync":
		a.sync(ctx)
	case "list", "ls", "search":
		a.list(rest)
	case "p", "a", "present", "absent":
		if len(args) != 1 {
			a.printf("usage: %s <reg>\n", cmd)
			return false
		}
		var mark attendance.Mark
		if mark, err = attendance.ParseMark(cmd); err == nil {
			err = a.session.ToggleMark(a.resolve(args[0]), mark)
		}
	case "all":
		if len(args) != 1 {
			a.printf("usage: all present|absent\n")
			return false
		}
		var mark attendance.Mark
		if mark, err = attendance.ParseMark(strings.ToLower(args[0])); err == nil {
			err = a.session.MarkAll(mark)
		}
	case "reset":
		err = a.session.ResetAll()
	case "date":
		if len(args) != 1 {
			a.printf("usage: date YYYY-MM-DD\n")
			return false
		}
		if _, perr := time.Parse("2006-01-02", args[0]); perr != nil {
			a.printf("invalid date %q\n", args[0])
			return false
		}
		err = a.session.SetDate(args[0])
	case "time":
		if len(args) != 2 || !validClock(args[0]) || !validClock(args[1]) {
			a.printf("usage: time HH:MM HH:MM\n")
			return false
		}
		err = a.session.SetTimes(args[0], args[1])
	case "type":
		if len(args) != 1 {
			a.printf("usage: type <code>\n")
			return false
		}
		err = a.session.SetClassType(args[0])
	case "online":
		switch rest {
		case "on", "yes", "true":
			err = a.session.SetOnline(true)
		case "off", "no", "false":
			err = a.session.SetOnline(false)
		default:
			a.printf("usage: online on|off\n")
			return false
		}
	case "notes":
		err = a.session.SetNotes(rest)
	case "status":
		a.checkConnection(ctx)
		a.status()
	case "submit":
		a.submit(ctx)
	default:
		a.printf("unknown command %q, type help\n", cmd)
	}

	// Lock and roster violations are already reported through the notifier.
	if err != nil && !errors.Is(err, attendance.ErrLocked) && !errors.Is(err, attendance.ErrNoRoster) {
		a.printf("error: %v\n", err)
	}
	return false
}

func (a *app) sync(ctx context.Context) {
	a.checkConnection(ctx)
	r, status := a.provider.Load(ctx)
	a.session.SetRoster(r)
	a.printf("%s\n", status.Message())
	if r != nil {
		a.printf("%s section %s, %d students\n", r.Course, r.Section, len(r.Students))
	}
}

// resolve maps a display reg typed by the user to the roster reg.
func (a *app) resolve(arg string) string {
	r := a.session.Roster()
	if r == nil {
		return arg
	}
	for _, st := range r.Students {
		if st.Reg == arg {
			return arg
		}
	}
	for _, st := range r.Students {
		if st.DisplayReg != "" && strings.EqualFold(st.DisplayReg, arg) {
			return st.Reg
		}
	}
	return arg
}

func (a *app) list(query string) {
	r := a.session.Roster()
	if r == nil {
		a.printf("%s\n", roster.StatusUnavailable.Message())
		return
	}
	students := roster.Filter(r, query)
	if len(students) == 0 {
		a.printf("no students match %q\n", query)
		return
	}
	marks := a.session.Draft().Students
	for _, st := range students {
		a.printf("  %-8s %-14s %-28s %s\n", markLabel(marks[st.Reg]), displayReg(st), st.Name, st.Reg)
	}
}

// checkConnection probes the service and prints the connectivity indicator.
func (a *app) checkConnection(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.wait)
	defer cancel()
	if err := a.remote.Health(ctx); err != nil {
		a.printf("Connection: Offline (%v)\n", err)
		return
	}
	a.printf("Connection: Online\n")
}

func (a *app) status() {
	d := a.session.Draft()
	state := "editing"
	if a.session.Locked() {
		state = "locked"
	}
	a.printf("date %s  %s-%s  type %s  online %t  (%s)\n", d.Date, d.StartTime, d.EndTime, d.ClassType, d.IsOnline, state)
	if d.LectureNotes != "" {
		a.printf("notes: %s\n", d.LectureNotes)
	}
	if a.session.Roster() != nil {
		a.printTally(a.session.Counts())
	}
}

func (a *app) submit(ctx context.Context) {
	tally, err := a.session.Summary()
	switch {
	case errors.Is(err, attendance.ErrAlreadyLocked):
		a.notify(attendance.LevelError, "Attendance already submitted and locked")
		return
	case errors.Is(err, attendance.ErrNoRoster):
		a.notify(attendance.LevelError, "No roster loaded")
		return
	case err != nil:
		a.printf("error: %v\n", err)
		return
	}

	a.printTally(tally)
	a.printf("Submit and lock attendance? [y/N] ")
	answer, ok := a.readLine()
	if !ok || (!strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes")) {
		a.printf("submission cancelled\n")
		return
	}

	out, err := a.session.Submit(ctx)
	if err != nil {
		return
	}
	a.pending = out.Delivery
	a.printf("Attendance %s locked (%d present)\n", out.Record.ID, out.Record.PresentCount())
}

func (a *app) printTally(t attendance.Tally) {
	a.printf("Present: %d  Absent: %d  Unmarked: %d\n", t.Present, t.Absent, t.Unmarked)
}

// drain gives an in-flight delivery the chance to finish before exit.
func (a *app) drain() {
	if a.pending == nil {
		return
	}
	select {
	case <-a.pending:
	case <-time.After(a.wait + time.Second):
		a.printf("delivery still running, record kept on this device\n")
	}
}

func markLabel(m attendance.Mark) string {
	if m == attendance.Unmarked {
		return "-"
	}
	return string(m)
}

func displayReg(st model.Student) string {
	if st.DisplayReg != "" {
		return st.DisplayReg
	}
	return st.Reg
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
