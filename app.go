package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/kwv/loransac/ransac"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *ransac.Config
	Store      *ransac.ResultStore
	MQTTClient *ransac.MQTTClient
	Publisher  *ransac.Publisher

	Options AppOptions
	out     io.Writer
}

// NewApp creates an App writing its reports to out
func NewApp(out io.Writer) *App {
	return &App{
		Config: ransac.DefaultConfig(),
		Store:  ransac.NewResultStore(),
		out:    out,
	}
}

// ApplyOptions loads the configuration and applies CLI overrides
func (a *App) ApplyOptions(opts AppOptions) {
	a.Options = opts

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err == nil {
			config, err := ransac.LoadConfig(opts.ConfigFile)
			if err != nil {
				log.Printf("Warning: %v; using defaults", err)
			} else {
				a.Config = config
				log.Printf("Loaded config from %s", opts.ConfigFile)
			}
		}
	}

	if opts.DataDir != "" {
		a.Config.DataDir = opts.DataDir
	}
	if opts.HttpPort > 0 {
		a.Config.HTTP.Port = opts.HttpPort
	}
	if opts.Threshold > 0 {
		a.Config.RANSAC.InlierThreshold = opts.Threshold
	}
	if opts.CoreNumber > 0 {
		a.Config.RANSAC.CoreNumber = opts.CoreNumber
	}
	if opts.Solve && opts.Seed != 0 {
		a.Config.RANSAC.Seed = opts.Seed
	}
}

func (a *App) outputDir() string {
	if a.Options.OutputDir != "" {
		return a.Options.OutputDir
	}
	return a.Config.DataDir
}

// RunGenerate writes a synthetic problem to the data directory
func (a *App) RunGenerate() error {
	o := a.Options
	p, err := ransac.GenerateProblem(o.Generate, o.Count, o.InlierRatio, o.Noise, o.Seed)
	if err != nil {
		return err
	}
	path := filepath.Join(a.Config.DataDir, p.ID+ransac.ProblemFileSuffix)
	if err := writeJSON(path, p); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %s problem %s (%d correspondences, %.0f%% inliers) to %s\n",
		p.Kind, p.ID, p.Count(), 100*o.InlierRatio, path)
	return nil
}

// RunSolve solves every problem file in the data directory
func (a *App) RunSolve() error {
	pattern := filepath.Join(a.Config.DataDir, "*"+ransac.ProblemFileSuffix)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("finding problem files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no *%s files found in %s", ransac.ProblemFileSuffix, a.Config.DataDir)
	}
	sort.Strings(files)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(a.out, "Found %d problem(s)\n\n", len(files))
	failed := 0
	for _, file := range files {
		if err := a.solveFile(ctx, file); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(a.out, "ERROR: %s: %v\n\n", file, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d problems failed", failed, len(files))
	}
	return nil
}

func (a *App) solveFile(ctx context.Context, path string) error {
	p, err := ransac.ParseProblemFile(path)
	if err != nil {
		return err
	}
	sol, err := a.solve(ctx, p)
	if err != nil {
		return err
	}
	printSolution(a.out, sol)

	dir := a.outputDir()
	if err := writeJSON(filepath.Join(dir, sol.ID+".solution.json"), sol); err != nil {
		return err
	}
	if a.Options.Render {
		out, err := a.render(dir, p, sol)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Rendered %s\n", out)
	}
	fmt.Fprintln(a.out)
	return nil
}

// solve runs the solver with the configured settings and records the result
func (a *App) solve(ctx context.Context, p *ransac.Problem) (*ransac.Solution, error) {
	sol, err := ransac.Solve(ctx, p, a.Config.RANSAC)
	if err != nil {
		return nil, err
	}
	a.Store.Put(p, sol)
	return sol, nil
}

func (a *App) render(dir string, p *ransac.Problem, sol *ransac.Solution) (string, error) {
	var ext string
	var draw func(io.Writer) error
	switch a.Options.RenderFormat {
	case "", "svg":
		ext, draw = ".svg", ransac.NewVectorRenderer(p, sol, a.Config.Render).RenderToSVG
	case "png":
		ext, draw = ".png", ransac.NewVectorRenderer(p, sol, a.Config.Render).RenderToPNG
	case "overlay":
		path := filepath.Join(dir, sol.ID+".overlay.png")
		return path, ransac.NewOverlayRenderer(p, sol).SavePNG(path)
	default:
		return "", fmt.Errorf("unknown render format %q", a.Options.RenderFormat)
	}

	path := filepath.Join(dir, sol.ID+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return path, draw(f)
}

func printSolution(w io.Writer, s *ransac.Solution) {
	fmt.Fprintf(w, "=== %s (%s) ===\n", s.ID, s.Kind)
	fmt.Fprintf(w, "Inliers: %d/%d (%.1f%%), score %.2f\n", s.Score.Inliers, s.Total, 100*s.InlierRatio(), s.Score.Value)
	fmt.Fprintf(w, "RMSE: %.4f, max residual: %.4f (threshold %.2f)\n", s.RMSE, s.MaxResidual, s.Threshold)
	fmt.Fprintf(w, "Iterations: %d in %.1f ms\n", s.Iterations, s.DurationMs)
	fmt.Fprintln(w, "Model:")
	for _, row := range s.Model {
		fmt.Fprint(w, " ")
		for _, v := range row {
			fmt.Fprintf(w, " %12.6f", v)
		}
		fmt.Fprintln(w)
	}
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// handleRequest solves a problem received over MQTT and publishes the
// outcome
func (a *App) handleRequest(ctx context.Context, id string, p *ransac.Problem, decodeErr error) {
	if decodeErr != nil {
		a.publishError(id, decodeErr)
		return
	}
	sol, err := a.solve(ctx, p)
	if err != nil {
		log.Printf("[MQTT] problem %s failed: %v", id, err)
		a.publishError(id, err)
		return
	}
	log.Printf("[MQTT] solved %s: %d/%d inliers", id, sol.Score.Inliers, sol.Total)
	if a.Publisher != nil {
		if err := a.Publisher.PublishSolution(sol); err != nil {
			log.Printf("[MQTT] error publishing solution %s: %v", id, err)
		}
	}
}

func (a *App) publishError(id string, err error) {
	if a.Publisher == nil {
		return
	}
	if perr := a.Publisher.PublishError(id, err); perr != nil {
		log.Printf("[MQTT] error publishing failure for %s: %v", id, perr)
	}
}

// RunService serves MQTT and/or HTTP until SIGINT or SIGTERM
func (a *App) RunService() error {
	fmt.Fprintln(a.out, "Starting loransac service...")

	a.Store = ransac.NewResultStoreWithCache(filepath.Join(a.Config.DataDir, ransac.ResultsCacheFile))
	if n := a.Store.Len(); n > 0 {
		log.Printf("Loaded %d cached solutions", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.Options.MqttMode {
		client, err := ransac.InitMQTT(a.Config, func(id string, p *ransac.Problem, err error) {
			a.handleRequest(ctx, id, p, err)
		})
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured (set MQTT_BROKER or mqtt.broker)")
		}
		a.MQTTClient = client
		a.Publisher = ransac.NewPublisher(client.GetClient(), ransac.MQTTSettings(a.Config).PublishPrefix, a.Store)
	}

	var server *http.Server
	if a.Options.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.Config.HTTP.Port),
			Handler:           newHTTPServer(a.Store, a.solve, a.Config.Render),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] server error: %v", err)
				stop()
			}
		}()
	}

	a.printServiceInfo()
	<-ctx.Done()

	fmt.Fprintln(a.out, "\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	if a.MQTTClient != nil {
		prefix := ransac.MQTTSettings(a.Config).PublishPrefix
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Requests:  %s\n", a.MQTTClient.RequestTopic())
		fmt.Fprintf(a.out, "  Solutions: %s/solutions/{id}\n", prefix)
		fmt.Fprintf(a.out, "  Summary:   %s/solutions\n", prefix)
		fmt.Fprintf(a.out, "  Errors:    %s/errors/{id}\n", prefix)
	}
	if a.Options.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.Config.HTTP.Port)
		fmt.Fprintln(a.out, "  GET  /health               - Health check")
		fmt.Fprintln(a.out, "  POST /estimate             - Solve a problem")
		fmt.Fprintln(a.out, "  GET  /solutions            - Solution summaries")
		fmt.Fprintln(a.out, "  GET  /solutions/{id}       - Full solution")
		fmt.Fprintln(a.out, "  GET  /solutions/{id}/svg   - Vector render")
		fmt.Fprintln(a.out, "  GET  /solutions/{id}/png   - Raster render")
	}
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
