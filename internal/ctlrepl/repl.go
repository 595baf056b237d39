// Package ctlrepl is the interactive shell control surface: an
// editable-line REPL on stdio that dispatches onto a Facade.
package ctlrepl

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/peterh/liner"

	taskmaster "github.com/AnthonyRzTech/Taskmaster"
)

type shellCommand struct {
	name string
	args []string
	help string
}

var commands = []shellCommand{
	{"status", []string{"[name]"}, "Show worker status, optionally for one program"},
	{"start", []string{"<name|all>"}, "Start a program's workers"},
	{"stop", []string{"<name|all>"}, "Stop a program's workers"},
	{"restart", []string{"<name|all>"}, "Stop then start a program's workers"},
	{"reload", nil, "Reload the configuration file"},
	{"config", []string{"<name>"}, "Show a program's resolved configuration"},
	{"signal", []string{"<name>", "<SIG>"}, "Send a signal to a program's workers"},
	{"shutdown", nil, "Stop every worker and exit the daemon"},
	{"version", nil, "Show the daemon version"},
	{"help", []string{"[cmd]"}, "List commands, or describe one"},
	{"exit", nil, "Leave the shell; taskmasterd then shuts down"},
	{"quit", nil, "Alias for exit"},
}

// Shell is the interactive control surface. Grounded on the same
// command-table-plus-liner shape this codebase's command-line taskmaster
// lineage uses for its own REPL.
type Shell struct {
	facade     taskmaster.Facade
	reloadFunc func() ([]*taskmaster.ProgramSpec, error)
	version    string
	out        io.Writer
}

// New builds a Shell. reload is called by the "reload" command to
// re-read and re-parse the catalog file; it returns the new spec list
// to hand to facade.Reload.
func New(facade taskmaster.Facade, reload func() ([]*taskmaster.ProgramSpec, error), version string, out io.Writer) *Shell {
	return &Shell{facade: facade, reloadFunc: reload, version: version, out: out}
}

// Loop runs the shell until the user exits or issues "shutdown". It
// does not return until one of those happens.
func (s *Shell) Loop() {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(partial string) (c []string) {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd.name, strings.ToLower(partial)) {
				c = append(c, cmd.name)
			}
		}
		return
	})

	for {
		input, err := line.Prompt("taskmaster> ")
		if err != nil {
			return // EOF / Ctrl-D / Ctrl-C
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		cmd, args := fields[0], fields[1:]

		if cmd == "exit" || cmd == "quit" {
			return
		}
		if s.dispatch(cmd, args) {
			return
		}
	}
}

// dispatch runs one command; it returns true if the shell should stop
// (currently only "shutdown").
func (s *Shell) dispatch(cmd string, args []string) bool {
	switch cmd {
	case "help":
		s.printHelp(args)

	case "version":
		fmt.Fprintln(s.out, s.version)

	case "status":
		s.printStatus(args)

	case "start":
		s.runAndReport(args, "start", s.facade.Start, s.facade.StartAll)

	case "stop":
		s.runAndReportForce(args, "stop", s.facade.Stop, func(force bool) error { return s.facade.StopAll(force) })

	case "restart":
		s.runAndReport(args, "restart", s.facade.Restart, s.facade.RestartAll)

	case "reload":
		s.doReload()

	case "config":
		s.printConfig(args)

	case "signal":
		s.doSignal(args)

	case "shutdown":
		s.facade.Shutdown(false)
		fmt.Fprintln(s.out, "Shutdown complete")
		return true

	default:
		fmt.Fprintf(s.out, "Unknown command %q (try \"help\")\n", cmd)
	}
	return false
}

func (s *Shell) printHelp(args []string) {
	if len(args) == 1 {
		for _, cmd := range commands {
			if cmd.name == args[0] {
				fmt.Fprintf(s.out, "%s %s - %s\n", cmd.name, strings.Join(cmd.args, " "), cmd.help)
				return
			}
		}
		fmt.Fprintf(s.out, "no such command %q\n", args[0])
		return
	}
	fmt.Fprintln(s.out, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(s.out, "  %-10s %-20s %s\n", cmd.name, strings.Join(cmd.args, " "), cmd.help)
	}
}

func (s *Shell) printStatus(args []string) {
	now := time.Now()
	if len(args) == 1 && args[0] != "all" {
		st, err := s.facade.Status(args[0])
		if err != nil {
			fmt.Fprintln(s.out, "Error:", err)
			return
		}
		for _, w := range st {
			fmt.Fprintln(s.out, taskmaster.FormatStatusLine(w, now))
		}
		return
	}

	all := s.facade.StatusAll()
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		for _, w := range all[n] {
			fmt.Fprintln(s.out, taskmaster.FormatStatusLine(w, now))
		}
	}
}

func (s *Shell) runAndReport(args []string, verb string, one func(string) error, all func() error) {
	if len(args) != 1 {
		fmt.Fprintf(s.out, "Error: expected 1 argument for %q\n", verb)
		return
	}
	var err error
	if args[0] == "all" {
		err = all()
	} else {
		err = one(args[0])
	}
	if err != nil {
		fmt.Fprintln(s.out, "Error:", err)
		return
	}
	fmt.Fprintf(s.out, "%s%s %s\n", strings.ToUpper(verb[:1]), verb[1:], args[0])
}

func (s *Shell) runAndReportForce(args []string, verb string, one func(string, bool) error, all func(bool) error) {
	force := false
	if len(args) == 2 && args[1] == "-f" {
		force = true
		args = args[:1]
	}
	if len(args) != 1 {
		fmt.Fprintf(s.out, "Error: expected 1 argument for %q\n", verb)
		return
	}
	var err error
	if args[0] == "all" {
		err = all(force)
	} else {
		err = one(args[0], force)
	}
	if err != nil {
		fmt.Fprintln(s.out, "Error:", err)
		return
	}
	fmt.Fprintf(s.out, "%s%s %s\n", strings.ToUpper(verb[:1]), verb[1:], args[0])
}

func (s *Shell) doReload() {
	if s.reloadFunc == nil {
		fmt.Fprintln(s.out, "Error: reload not configured")
		return
	}
	catalog, err := s.reloadFunc()
	if err != nil {
		fmt.Fprintln(s.out, "Error:", err)
		return
	}
	res, err := s.facade.Reload(catalog)
	if err != nil {
		fmt.Fprintln(s.out, "Error:", err)
		return
	}
	fmt.Fprintln(s.out, "Configuration reloaded")
	if len(res.Added) > 0 {
		fmt.Fprintln(s.out, "  added:", strings.Join(res.Added, ", "))
	}
	if len(res.Removed) > 0 {
		fmt.Fprintln(s.out, "  removed:", strings.Join(res.Removed, ", "))
	}
	if len(res.Restarted) > 0 {
		fmt.Fprintln(s.out, "  restarted:", strings.Join(res.Restarted, ", "))
	}
}

func (s *Shell) printConfig(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Error: expected 1 argument for \"config\"")
		return
	}
	spec, err := s.facade.Config(args[0])
	if err != nil {
		fmt.Fprintln(s.out, "Error:", err)
		return
	}
	fmt.Fprintf(s.out, "%s:\n", spec.Name)
	fmt.Fprintf(s.out, "  command:     %s\n", spec.Command)
	fmt.Fprintf(s.out, "  numprocs:    %d\n", spec.NumProcs)
	fmt.Fprintf(s.out, "  autostart:   %v\n", spec.AutoStart)
	fmt.Fprintf(s.out, "  autorestart: %s\n", spec.RestartPolicy)
	fmt.Fprintf(s.out, "  startretries:%d\n", spec.StartRetries)
	fmt.Fprintf(s.out, "  starttime:   %ds\n", spec.StartSecs)
	fmt.Fprintf(s.out, "  stopsignal:  %s\n", spec.StopSignal)
	fmt.Fprintf(s.out, "  stoptime:    %ds\n", spec.StopSecs)
	fmt.Fprintf(s.out, "  workingdir:  %s\n", spec.WorkingDir)
	fmt.Fprintf(s.out, "  umask:       0%o\n", spec.Umask)
	fmt.Fprintf(s.out, "  stdout:      %s\n", spec.StdoutPath)
	fmt.Fprintf(s.out, "  stderr:      %s\n", spec.StderrPath)
}

func (s *Shell) doSignal(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "Error: expected 2 arguments for \"signal\"")
		return
	}
	if err := s.facade.Signal(args[0], taskmaster.SignalName(strings.ToUpper(args[1]))); err != nil {
		fmt.Fprintln(s.out, "Error:", err)
		return
	}
	fmt.Fprintf(s.out, "Signalled %s with %s\n", args[0], strings.ToUpper(args[1]))
}
