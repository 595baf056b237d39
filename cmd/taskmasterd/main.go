// Command taskmasterd is the supervisor daemon: it loads a program
// catalog, boots the supervisor engine, and serves the interactive
// shell, control socket, and HTTP API control surfaces.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	taskmaster "github.com/AnthonyRzTech/Taskmaster"
	"github.com/AnthonyRzTech/Taskmaster/internal/config"
	"github.com/AnthonyRzTech/Taskmaster/internal/ctlrepl"
	"github.com/AnthonyRzTech/Taskmaster/internal/ctlsock"
	"github.com/AnthonyRzTech/Taskmaster/internal/httpapi"
)

const version = "taskmaster 1.0"

var (
	configPath string
	daemonize  bool
	showHelp   bool
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-c|--config PATH] [-d|--daemon] [-h|--help] [PATH]\n", os.Args[0])
}

func main() {
	flag.StringVar(&configPath, "c", "taskmaster.yaml", "config file path")
	flag.StringVar(&configPath, "config", "taskmaster.yaml", "config file path")
	flag.BoolVar(&daemonize, "d", false, "run without the interactive shell")
	flag.BoolVar(&daemonize, "daemon", false, "run without the interactive shell")
	flag.BoolVar(&showHelp, "h", false, "show usage")
	flag.BoolVar(&showHelp, "help", false, "show usage")
	flag.Parse()

	if showHelp {
		usage()
		return
	}
	if args := flag.Args(); len(args) > 0 {
		configPath = args[0]
	}

	res, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmasterd: %v\n", err)
		os.Exit(1)
	}

	var writers []io.Writer
	if res.Global.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(res.Global.LogFile), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "taskmasterd: %v\n", err)
			os.Exit(1)
		}
		f, err := os.OpenFile(res.Global.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "taskmasterd: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		writers = append(writers, f)
	}
	if !daemonize {
		writers = append(writers, os.Stderr)
	}
	log := taskmaster.NewLogSink(taskmaster.ParseLevel(res.Global.LogLevel), writers...)

	for name, rejectErr := range res.Rejected {
		log.Warningf("rejected program %s: %v", name, rejectErr)
	}
	if len(res.Specs) == 0 {
		fmt.Fprintln(os.Stderr, "taskmasterd: no valid programs in catalog, nothing to supervise")
		os.Exit(1)
	}

	sup := taskmaster.NewSupervisor(taskmaster.NewClock(), log, taskmaster.NewSpawner, taskmaster.NewSignalPort())
	sup.Boot(res.Specs)

	reload := func() ([]*taskmaster.ProgramSpec, error) {
		r, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		for name, rejectErr := range r.Rejected {
			log.Warningf("rejected program %s: %v", name, rejectErr)
		}
		return r.Specs, nil
	}

	signalPort := taskmaster.NewSignalPort()
	signalPort.InstallHandler(taskmaster.SigHUP, func() {
		log.Infof("received HUP, reloading %s", configPath)
		catalog, err := reload()
		if err != nil {
			log.Errorf("reload failed: %v", err)
			return
		}
		if _, err := sup.Reload(catalog); err != nil {
			log.Errorf("reload failed: %v", err)
		}
	})

	shutdownCh := make(chan struct{})
	signalPort.InstallHandler(taskmaster.SigTERM, func() { close(shutdownCh) })
	signalPort.InstallHandler(taskmaster.SigINT, func() { close(shutdownCh) })
	signalPort.InstallHandler(taskmaster.SigUSR1, func() {
		now := time.Now()
		all := sup.StatusAll()
		for _, name := range sup.ProgramNames() {
			for _, st := range all[name] {
				log.Infof("status: %s", taskmaster.FormatStatusLine(st, now))
			}
		}
	})

	ctlLn, err := net.Listen("tcp", res.Global.ControlAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmasterd: control listen: %v\n", err)
		os.Exit(1)
	}
	ctlServer := ctlsock.New(sup, version, log)
	ctlServer.SetReload(reload)
	go func() {
		if err := ctlServer.Serve(ctlLn); err != nil {
			log.Warningf("control socket: %v", err)
		}
	}()

	httpLn, err := net.Listen("tcp", res.Global.HTTPAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmasterd: http listen: %v\n", err)
		os.Exit(1)
	}
	httpHandler := httpapi.NewHandler(sup, reload)
	go func() {
		if err := http.Serve(httpLn, httpHandler); err != nil {
			log.Warningf("http api: %v", err)
		}
	}()

	log.Infof("taskmasterd listening: control=%s http=%s", res.Global.ControlAddr, res.Global.HTTPAddr)

	if daemonize {
		<-shutdownCh
	} else {
		shell := ctlrepl.New(sup, reload, version, os.Stdout)
		done := make(chan struct{})
		go func() {
			shell.Loop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCh:
		}
	}

	ctlLn.Close()
	httpLn.Close()
	sup.Shutdown(false)
	log.Infof("taskmasterd exiting")
}
