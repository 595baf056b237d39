// Package tui is an optional live status viewer: a single redraw loop
// against a plain tcell.Screen, polling taskmasterd's long-poll status
// route. It is not a substitute for any of the three required control
// surfaces and is not wired into the daemon itself.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
)

// statusEntry mirrors the httpapi wire shape for one worker row.
type statusEntry struct {
	ProgramName   string    `json:"programName"`
	ProcessNumber int       `json:"processNumber"`
	ProcessID     int       `json:"processId"`
	State         string    `json:"state"`
	StartTime     time.Time `json:"startTime"`
	RestartCount  int       `json:"restartCount"`
}

// Dashboard polls baseURL's /api/status long-poll route and redraws a
// table of "<program>-<index>  pid  state  uptime" rows on every
// change. Grounded on this codebase's panel-refresh model (poll, rebuild
// rows, redraw), scaled down to one plain table instead of the teacher's
// multi-panel widget framework.
type Dashboard struct {
	screen  tcell.Screen
	baseURL string
	client  *http.Client
	serial  int64
}

// New builds a Dashboard that polls baseURL (e.g. "http://127.0.0.1:8080").
func New(screen tcell.Screen, baseURL string) *Dashboard {
	return &Dashboard{
		screen:  screen,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 35 * time.Second},
	}
}

// Run drives the dashboard until the user quits ('q', Esc, Ctrl-C) or
// a status poll fails, returning that error. It owns the screen for its
// whole lifetime.
func (d *Dashboard) Run() error {
	if err := d.screen.Init(); err != nil {
		return err
	}
	defer d.screen.Fini()
	d.screen.SetStyle(tcell.StyleDefault)
	d.screen.Clear()

	events := make(chan tcell.Event, 8)
	go d.screen.ChannelEvents(events, nil)

	rows := make(chan []statusEntry, 1)
	errs := make(chan error, 1)
	go d.pollLoop(rows, errs)

	var last []statusEntry
	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				switch ev.Key() {
				case tcell.KeyEsc, tcell.KeyCtrlC:
					return nil
				case tcell.KeyRune:
					if ev.Rune() == 'q' || ev.Rune() == 'Q' {
						return nil
					}
				}
			case *tcell.EventResize:
				d.screen.Sync()
			}
		case entries := <-rows:
			last = entries
			d.draw(last)
		case err := <-errs:
			return err
		}
	}
}

// pollLoop long-polls /api/status?wait=<serial> forever, pushing each
// new snapshot onto rows.
func (d *Dashboard) pollLoop(rows chan<- []statusEntry, errs chan<- error) {
	for {
		entries, serial, err := d.fetch(d.serial)
		if err != nil {
			errs <- err
			return
		}
		d.serial = serial
		rows <- entries
	}
}

func (d *Dashboard) fetch(wait int64) ([]statusEntry, int64, error) {
	u, err := url.Parse(d.baseURL + "/api/status")
	if err != nil {
		return nil, wait, err
	}
	q := u.Query()
	q.Set("wait", strconv.FormatInt(wait, 10))
	q.Set("timeoutMs", "30000")
	u.RawQuery = q.Encode()

	resp, err := d.client.Get(u.String())
	if err != nil {
		return nil, wait, err
	}
	defer resp.Body.Close()

	var entries []statusEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, wait, err
	}
	serial := wait
	if s, err := strconv.ParseInt(resp.Header.Get("X-Status-Serial"), 10, 64); err == nil {
		serial = s
	}
	return entries, serial, nil
}

func (d *Dashboard) draw(entries []statusEntry) {
	d.screen.Clear()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProgramName != entries[j].ProgramName {
			return entries[i].ProgramName < entries[j].ProgramName
		}
		return entries[i].ProcessNumber < entries[j].ProcessNumber
	})

	header := fmt.Sprintf("%-24s %8s %-10s %10s %8s", "PROGRAM", "PID", "STATE", "UPTIME", "RESTARTS")
	d.puts(0, 0, header, tcell.StyleDefault.Bold(true))

	now := time.Now()
	for i, e := range entries {
		row := fmt.Sprintf("%-24s %8d %-10s %10s %8d",
			fmt.Sprintf("%s-%d", e.ProgramName, e.ProcessNumber),
			e.ProcessID, e.State, uptime(e, now), e.RestartCount)
		d.puts(0, i+2, row, styleFor(e.State))
	}
	d.puts(0, len(entries)+3, "[Q] Quit", tcell.StyleDefault)
	d.screen.Show()
}

func uptime(e statusEntry, now time.Time) string {
	if e.State != "Running" && e.State != "Stopping" {
		return ""
	}
	if e.StartTime.IsZero() {
		return ""
	}
	return now.Sub(e.StartTime).Round(time.Second).String()
}

func styleFor(state string) tcell.Style {
	switch state {
	case "Running":
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case "Fatal":
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	case "Backoff", "Starting", "Stopping":
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	default:
		return tcell.StyleDefault
	}
}

func (d *Dashboard) puts(x, y int, s string, style tcell.Style) {
	for i, r := range s {
		d.screen.SetContent(x+i, y, r, nil, style)
	}
}
