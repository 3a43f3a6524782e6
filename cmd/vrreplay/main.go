// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command vrreplay replays raw HTTP/1.x request streams through the request
// engine and prints the responses. Paths below /echo/ are answered by the echo
// backend, everything else is served from the document root.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/common/expfmt"

	"github.com/lesismal/vrequest"
	"github.com/lesismal/vrequest/action"
	"github.com/lesismal/vrequest/backends"
	"github.com/lesismal/vrequest/httpconn"
	"github.com/lesismal/vrequest/logging"
	"github.com/lesismal/vrequest/metrics"
)

const version = "dev"

type (
	cmd struct {
		Version struct{}  `cmd:"" help:"Show version."`
		Replay  cmdReplay `cmd:"" help:"Replay files holding raw HTTP requests and write the responses to stdout."`
	}
	cmdReplay struct {
		DocRoot     string        `name:"docroot" help:"Directory served by the static backend." default:"."`
		Workers     int           `help:"Number of workers." default:"1"`
		MemoryLimit int64         `name:"memory-limit" help:"Per request buffering limit in bytes, negative disables it." default:"0"`
		EchoMax     int32         `name:"echo-max" help:"Concurrent echo requests before the backend reports overload, 0 is unlimited." default:"0"`
		LogLevel    string        `name:"log-level" help:"One of all, debug, info, warn, error, none." default:"warn"`
		Debug       bool          `help:"Log every request state transition."`
		Metrics     bool          `help:"Print the request metrics after the responses."`
		Timeout     time.Duration `help:"How long one file may take." default:"10s"`
		Files       []string      `arg:"" name:"file" help:"Files with raw requests, - reads stdin."`
	}
)

type replayFn func(c cmdReplay, stdin io.Reader, stdout, stderr io.Writer) error

// errTimeout is returned when a connection does not finish in time.
var errTimeout = errors.New("replay timed out")

func main() {
	doMain(os.Stdin, os.Stdout, os.Stderr, os.Args[1:], replay)
}

func doMain(stdin io.Reader, stdout, stderr io.Writer, args []string, rf replayFn) {
	var c cmd
	parser, err := kong.New(&c,
		kong.Name("vrreplay"),
		kong.Description("Replay HTTP requests through the virtual request engine"),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		log.Fatalf("Error creating parser: %v", err)
	}
	ctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	switch ctx.Command() {
	case "version":
		_, _ = fmt.Fprintf(stdout, "vrreplay: %s\n", version)
	case "replay <file>":
		if err := rf(c.Replay, stdin, stdout, stderr); err != nil {
			log.Fatalf("Error replaying: %v", err)
		}
	default:
		panic("unreachable")
	}
}

// routes builds the action tree: POST/PUT under /echo/ go to the echo
// backend, the rest is mapped below the docroot for the static backend.
func routes(docroot string, echo *backends.Echo) action.Action {
	r := action.NewRouter()
	r.POST("/echo/*path", echo)
	r.Handle("PUT", "/echo/*path", echo)
	r.NotFound = action.List{
		action.DocRoot(docroot),
		&backends.Static{},
	}
	return r
}

func replay(c cmdReplay, stdin io.Reader, stdout, stderr io.Writer) error {
	lvl, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLogger(logging.New("vrreplay", stderr, lvl))

	var m *metrics.Collector
	if c.Metrics {
		m = metrics.New()
	}
	engine := vrequest.NewEngine(vrequest.Config{
		Name:                 "vrreplay",
		NumWorkers:           c.Workers,
		MemoryLimit:          c.MemoryLimit,
		DebugRequestHandling: c.Debug,
		Metrics:              m,
	})
	echo, err := backends.NewEcho(engine.Plugins(), "")
	if err != nil {
		return err
	}
	echo.MaxActive = c.EchoMax
	root := routes(c.DocRoot, echo)

	engine.Start()
	defer engine.Stop()

	for i, name := range c.Files {
		var data []byte
		if name == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(name)
		}
		if err != nil {
			return err
		}
		out, err := replayOne(engine.Worker(i), root, data, c.Timeout)
		if _, werr := stdout.Write(out); werr != nil {
			return werr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if m != nil {
		families, err := m.Registry().Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(stdout, mf); err != nil {
				return err
			}
		}
	}
	return nil
}

// replayOne feeds data as one connection on w and returns what the
// connection wrote once it closed.
func replayOne(w *vrequest.Worker, root action.Action, data []byte, timeout time.Duration) ([]byte, error) {
	out := &bytes.Buffer{}
	done := make(chan error, 1)
	err := w.Call(func() {
		conn := httpconn.New(w, out, action.NewStack(root))
		conn.OnClose = func(c *httpconn.Conn, err error) {
			done <- err
		}
		if err := conn.Feed(data); err != nil {
			return
		}
		conn.CloseRead()
	})
	if err != nil {
		return nil, err
	}

	select {
	case err = <-done:
		return out.Bytes(), err
	case <-time.After(timeout):
		return nil, errTimeout
	}
}
