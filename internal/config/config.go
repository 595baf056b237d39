// Package config parses the YAML program catalog into validated
// taskmaster.ProgramSpec values.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	taskmaster "github.com/AnthonyRzTech/Taskmaster"
)

// Global holds the catalog file's top-level, daemon-wide settings.
type Global struct {
	LogFile     string `yaml:"logfile"`
	LogLevel    int    `yaml:"loglevel"`
	LogDir      string `yaml:"logdir"`
	ControlAddr string `yaml:"control"`
	HTTPAddr    string `yaml:"http"`
}

// DefaultControlAddr and DefaultHTTPAddr are the listen addresses used
// when the catalog file's global section leaves them unset, per
// spec.md §6.
const (
	DefaultControlAddr = "127.0.0.1:9090"
	DefaultHTTPAddr    = "127.0.0.1:8080"
)

type rawProgram struct {
	Cmd           string            `yaml:"cmd"`
	NumProcs      *int              `yaml:"numprocs"`
	AutoStart     *bool             `yaml:"autostart"`
	AutoRestart   string            `yaml:"autorestart"`
	ExitCodes     interface{}       `yaml:"exitcodes"`
	StartRetries  *int              `yaml:"startretries"`
	StartTime     *int              `yaml:"starttime"`
	StopSignal    string            `yaml:"stopsignal"`
	StopTime      *int              `yaml:"stoptime"`
	WorkingDir    string            `yaml:"workingdir"`
	Umask         string            `yaml:"umask"`
	Stdout        string            `yaml:"stdout"`
	Stderr        string            `yaml:"stderr"`
	DiscardOutput *bool             `yaml:"discardoutput"`
	Env           map[string]string `yaml:"env"`
}

type rawFile struct {
	Global   Global                `yaml:"global"`
	Programs map[string]rawProgram `yaml:"programs"`
}

// Result is a fully parsed catalog file: the programs that validated,
// and the ones that did not, by name.
type Result struct {
	Global   Global
	Specs    []*taskmaster.ProgramSpec
	Rejected map[string]error
}

// Load reads and parses path. A malformed YAML document or unreadable
// file is a hard error; an individual program's validation error is
// not — per spec.md §7's ConfigInvalid handling, every program is
// parsed independently and the catalog loads with whatever programs
// validated, recording the rest in Result.Rejected for the caller to
// log.
func Load(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	names := make([]string, 0, len(raw.Programs))
	for name := range raw.Programs {
		names = append(names, name)
	}
	sort.Strings(names)

	global := raw.Global
	if global.ControlAddr == "" {
		global.ControlAddr = DefaultControlAddr
	}
	if global.HTTPAddr == "" {
		global.HTTPAddr = DefaultHTTPAddr
	}

	res := &Result{
		Global:   global,
		Rejected: make(map[string]error),
	}

	for _, name := range names {
		spec, err := toProgramSpec(name, raw.Programs[name], raw.Global)
		if err != nil {
			res.Rejected[name] = err
			continue
		}
		res.Specs = append(res.Specs, spec)
	}

	return res, nil
}

func toProgramSpec(name string, p rawProgram, global Global) (*taskmaster.ProgramSpec, error) {
	restart, err := parseAutoRestart(p.AutoRestart)
	if err != nil {
		return nil, err
	}

	exitCodes, err := parseExitCodes(p.ExitCodes)
	if err != nil {
		return nil, err
	}

	umask, err := parseUmask(p.Umask)
	if err != nil {
		return nil, err
	}

	stopSignal := taskmaster.SigTERM
	if p.StopSignal != "" {
		stopSignal = taskmaster.SignalName(strings.ToUpper(p.StopSignal))
	}

	stdout := resolveLogPath(p.Stdout, global.LogDir)
	stderr := resolveLogPath(p.Stderr, global.LogDir)

	return taskmaster.NewProgramSpec(taskmaster.ProgramSpec{
		Name:              name,
		Command:           p.Cmd,
		NumProcs:          intOr(p.NumProcs, 1),
		AutoStart:         boolOr(p.AutoStart, false),
		RestartPolicy:     restart,
		ExpectedExitCodes: exitCodes,
		StartRetries:      intOr(p.StartRetries, 3),
		StartSecs:         intOr(p.StartTime, 1),
		StopSignal:        stopSignal,
		StopSecs:          intOr(p.StopTime, 10),
		WorkingDir:        p.WorkingDir,
		Umask:             umask,
		Env:               p.Env,
		StdoutPath:        stdout,
		StderrPath:        stderr,
		DiscardOutput:     boolOr(p.DiscardOutput, false),
	})
}

// parseAutoRestart accepts the three-value enum spec.md §6 names, plus
// the boolean spellings a YAML author is likely to reach for first:
// true|always, false|never, unexpected. Empty means unexpected, the
// same middle-ground default the wider supervisor ecosystem uses.
func parseAutoRestart(s string) (taskmaster.RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unexpected":
		return taskmaster.RestartOnUnexpected, nil
	case "true", "always":
		return taskmaster.RestartAlways, nil
	case "false", "never":
		return taskmaster.RestartNever, nil
	default:
		return 0, fmt.Errorf("unknown autorestart value %q", s)
	}
}

func parseExitCodes(v interface{}) (map[int]bool, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil // NewProgramSpec defaults this to {0: true}
	case int:
		return map[int]bool{val: true}, nil
	case []interface{}:
		codes := make(map[int]bool, len(val))
		for _, item := range val {
			n, ok := item.(int)
			if !ok {
				return nil, fmt.Errorf("invalid exit code %v", item)
			}
			codes[n] = true
		}
		return codes, nil
	default:
		return nil, fmt.Errorf("invalid exitcodes value %v", v)
	}
}

// parseUmask accepts decimal or leading-zero octal strings, e.g. "22"
// or "0022"; base 0 to strconv.ParseInt already implements exactly
// that rule.
func parseUmask(s string) (int, error) {
	if s == "" {
		return 0o022, nil
	}
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid umask %q: %w", s, err)
	}
	return int(n), nil
}

// resolveLogPath joins a relative stdout/stderr path under logdir, per
// SPEC_FULL.md §6; an absolute path or an empty one passes through.
func resolveLogPath(path, logDir string) string {
	if path == "" || logDir == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return logDir + "/" + path
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}
