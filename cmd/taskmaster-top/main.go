// Command taskmaster-top is an optional terminal status viewer for a
// running taskmasterd: it polls the HTTP API's long-poll status route
// and redraws a live table. It is read-only and not wired into the
// daemon itself.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"

	"github.com/AnthonyRzTech/Taskmaster/internal/tui"
)

var addr = "http://127.0.0.1:8080"

func main() {
	flag.StringVar(&addr, "a", addr, "taskmasterd HTTP API address")
	flag.Parse()

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmaster-top: %v\n", err)
		os.Exit(1)
	}

	d := tui.New(screen, addr)
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "taskmaster-top: %v\n", err)
		os.Exit(1)
	}
}
