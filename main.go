package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line
type AppOptions struct {
	ConfigFile string
	DataDir    string
	OutputDir  string

	Solve        bool
	Render       bool
	RenderFormat string // svg, png or overlay

	Generate    string // model kind to synthesise
	Count       int
	InlierRatio float64
	Noise       float64
	Seed        int64

	Threshold  float64 // overrides ransac.inlierThreshold when positive
	CoreNumber int     // overrides ransac.coreNumber when positive

	MqttMode bool
	HttpMode bool
	HttpPort int
}

// Runner is implemented by App; tests substitute a recorder
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunSolve() error
	RunGenerate() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("loransac", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file (optional)")
	fs.StringVar(&opts.DataDir, "data-dir", "", "Directory containing *.problem.json files (default from config)")
	fs.StringVar(&opts.OutputDir, "output", "", "Directory for solutions and renders (default: data dir)")
	fs.BoolVar(&opts.Solve, "solve", false, "Solve every problem in the data directory and exit")
	fs.BoolVar(&opts.Render, "render", false, "Render each solution next to its JSON (with --solve)")
	fs.StringVar(&opts.RenderFormat, "format", "svg", "Render format: svg, png or overlay")
	fs.StringVar(&opts.Generate, "generate", "", "Write a synthetic problem of the given kind (affine, homography, rigid, line) and exit")
	fs.IntVar(&opts.Count, "n", 200, "Correspondences in a generated problem")
	fs.Float64Var(&opts.InlierRatio, "inlier-ratio", 0.4, "Inlier fraction of a generated problem")
	fs.Float64Var(&opts.Noise, "noise", 0.5, "Inlier noise (standard deviation) of a generated problem")
	fs.Int64Var(&opts.Seed, "seed", 1, "Seed for --generate, and for the solver when non-zero with --solve")
	fs.Float64Var(&opts.Threshold, "threshold", 0, "Override the inlier threshold")
	fs.IntVar(&opts.CoreNumber, "cores", 0, "Override the number of RANSAC workers")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Serve problem requests over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP port (default from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "loransac version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Generate != "":
		return app.RunGenerate()
	case opts.Solve:
		return app.RunSolve()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use --solve to fit every *.problem.json in --data-dir")
	fmt.Fprintln(out, "Use --solve --render to also draw inliers and outliers")
	fmt.Fprintln(out, "Use --generate=KIND to write a synthetic problem")
	fmt.Fprintln(out, "Use --mqtt and/or --http to run the service")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - RANSAC, MQTT, HTTP and render settings (optional)")
	return nil
}
