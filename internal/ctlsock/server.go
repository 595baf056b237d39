// Package ctlsock is the line-oriented TCP control surface: one
// goroutine per accepted connection, reading newline-delimited
// commands and writing newline-delimited responses.
package ctlsock

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	taskmaster "github.com/AnthonyRzTech/Taskmaster"
)

// Server accepts connections on a net.Listener and serves the control
// protocol over each one. Grounded on the same Handler-wraps-Manager
// shape this codebase's REST adapter uses, translated from JSON-over-HTTP
// to a raw line protocol.
type Server struct {
	facade     taskmaster.Facade
	version    string
	log        *taskmaster.LogSink
	reloadFunc func() ([]*taskmaster.ProgramSpec, error)
}

// New builds a Server bound to facade.
func New(facade taskmaster.Facade, version string, log *taskmaster.LogSink) *Server {
	return &Server{facade: facade, version: version, log: log}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed by the caller during shutdown).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	sc := bufio.NewScanner(conn)

	fmt.Fprintf(w, "taskmasterd %s control\n", s.version)
	w.Flush()

	for {
		fmt.Fprint(w, "> ")
		w.Flush()

		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		if cmd == "exit" || cmd == "quit" {
			return
		}
		stop := s.dispatch(w, cmd, args)
		w.Flush()
		if stop {
			return
		}
	}
}

// dispatch runs one command, writing its response to w. It returns true
// if the connection should close (only after "shutdown").
func (s *Server) dispatch(w *bufio.Writer, cmd string, args []string) bool {
	switch cmd {
	case "help":
		fmt.Fprintln(w, "status | start <name> | stop <name> | restart <name> | reload | shutdown | help | exit|quit")

	case "status":
		s.printStatus(w, args)

	case "start":
		s.ack(w, "start", "Started", args, s.facade.Start)

	case "stop":
		s.ack(w, "stop", "Stopped", args, func(name string) error { return s.facade.Stop(name, false) })

	case "restart":
		s.ack(w, "restart", "Restarted", args, s.facade.Restart)

	case "reload":
		if err := s.reload(); err != nil {
			fmt.Fprintln(w, "reload failed")
			return false
		}
		fmt.Fprintln(w, "Configuration reloaded")

	case "shutdown":
		fmt.Fprintln(w, "shutting down")
		go s.facade.Shutdown(false)
		return true

	default:
		fmt.Fprintln(w, "Unknown command")
	}
	return false
}

func (s *Server) printStatus(w *bufio.Writer, args []string) {
	now := time.Now()
	if len(args) == 1 {
		st, err := s.facade.Status(args[0])
		if err != nil {
			fmt.Fprintln(w, "status failed")
			return
		}
		for _, one := range st {
			fmt.Fprintln(w, taskmaster.FormatStatusLine(one, now))
		}
		return
	}
	for _, name := range s.facade.ProgramNames() {
		for _, one := range s.facade.StatusAll()[name] {
			fmt.Fprintln(w, taskmaster.FormatStatusLine(one, now))
		}
	}
}

func (s *Server) ack(w *bufio.Writer, op, verb string, args []string, fn func(string) error) {
	if len(args) != 1 {
		fmt.Fprintf(w, "%s failed\n", op)
		return
	}
	if err := fn(args[0]); err != nil {
		if s.log != nil {
			s.log.Warningf("control socket: %s %s: %v", op, args[0], err)
		}
		fmt.Fprintf(w, "%s failed\n", op)
		return
	}
	fmt.Fprintf(w, "%s %s\n", verb, args[0])
}

// reload re-reads the config file via the installed hook and hands the
// result to the Facade. It errors if SetReload was never called.
func (s *Server) reload() error {
	if s.reloadFunc == nil {
		return fmt.Errorf("reload not configured")
	}
	catalog, err := s.reloadFunc()
	if err != nil {
		return err
	}
	_, err = s.facade.Reload(catalog)
	return err
}

// SetReload installs the hook the "reload" command calls to re-read the
// catalog file before handing the result to the Facade.
func (s *Server) SetReload(fn func() ([]*taskmaster.ProgramSpec, error)) {
	s.reloadFunc = fn
}
