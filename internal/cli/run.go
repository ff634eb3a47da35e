package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/tahsin716/workq"
	"github.com/tahsin716/workq/metrics"
)

// runOptions holds the resolved settings of the run command.
type runOptions struct {
	Multi       bool
	IO          bool
	Pin         bool
	Processors  int
	SpinWindow  time.Duration
	MaxItems    int
	Width       int
	Height      int
	MaxIter     int
	Frames      int
	Producers   int
	MetricsAddr string
}

func (o *runOptions) load(v *viper.Viper) {
	o.Multi = v.GetBool("multi")
	o.IO = v.GetBool("io")
	o.Pin = v.GetBool("pin")
	o.Processors = v.GetInt("processors")
	o.SpinWindow = v.GetDuration("spin-window")
	o.MaxItems = v.GetInt("max-items")
	o.Width = v.GetInt("width")
	o.Height = v.GetInt("height")
	o.MaxIter = v.GetInt("max-iter")
	o.Frames = v.GetInt("frames")
	o.Producers = v.GetInt("producers")
	o.MetricsAddr = v.GetString("metrics-addr")
}

func (o *runOptions) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", o.Width, o.Height)
	}
	if o.MaxIter <= 0 || o.MaxIter > 1<<16-1 {
		return fmt.Errorf("max-iter must be in [1, 65535], got %d", o.MaxIter)
	}
	if o.Frames < 0 {
		return fmt.Errorf("frames must be >= 0, got %d", o.Frames)
	}
	if o.Producers <= 0 {
		return fmt.Errorf("producers must be positive, got %d", o.Producers)
	}
	return nil
}

func (o *runOptions) flags() workq.Flags {
	var f workq.Flags
	if o.Multi {
		f |= workq.FlagMulti
	}
	if o.IO {
		f |= workq.FlagIO
	}
	return f
}

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render frames on a work queue and report statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts runOptions
			opts.load(v)
			if err := opts.validate(); err != nil {
				return err
			}

			undo, err := maxprocs.Set(maxprocs.Logger(klog.V(1).Infof))
			if err != nil {
				klog.Warningf("failed to set GOMAXPROCS: %v", err)
			}
			defer undo()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, opts, klog.Background(), cmd.OutOrStdout())
		},
	}

	addRunFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.Flags())

	return cmd
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.Bool("multi", true, "spawn one worker per spare processor and help out in Wait")
	fs.Bool("io", false, "keep a worker on single-processor machines and lock workers to OS threads")
	fs.Bool("pin", false, "lock workers to OS threads")
	fs.Int("processors", 0, "available parallelism (0 detects it)")
	fs.Duration("spin-window", workq.DefaultSpinWindow, "how long idle workers spin before sleeping")
	fs.Int("max-items", workq.DefaultMaxItems, "item arena capacity")
	fs.Int("width", 640, "frame width in pixels")
	fs.Int("height", 480, "frame height in pixels, one item per row")
	fs.Int("max-iter", 256, "escape-time iteration limit")
	fs.Int("frames", 16, "number of frames to render")
	fs.Int("producers", 2, "goroutines submitting frames concurrently")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
}

// run renders the frames and prints a summary to out.
func run(ctx context.Context, opts runOptions, log logr.Logger, out io.Writer) error {
	q, err := workq.New(opts.flags(),
		workq.WithProcessors(opts.Processors),
		workq.WithSpinWindow(opts.SpinWindow),
		workq.WithMaxItems(opts.MaxItems),
		workq.WithPinWorkerThreads(opts.Pin),
		workq.WithLogger(log),
		workq.WithPanicHandler(func(r interface{}) {
			log.Info("render item panicked", "value", r)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	defer q.Destroy()

	if opts.MetricsAddr != "" {
		stop := serveMetrics(opts.MetricsAddr, q, log)
		defer stop()
	}

	start := time.Now()
	var checksum atomic.Uint64
	var next atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < opts.Producers; p++ {
		g.Go(func() error {
			for {
				frame := int(next.Add(1) - 1)
				if frame >= opts.Frames {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				sum, err := renderFrame(q, frame, opts)
				if err != nil {
					return fmt.Errorf("frame %d: %w", frame, err)
				}
				checksum.Add(sum)
			}
		})
	}
	err = g.Wait()
	q.Wait(workq.Infinite)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	stats := q.Stats()
	rows := opts.Frames * opts.Height

	fmt.Fprintf(out, "frames:     %d (%dx%d, %d iterations)\n", opts.Frames, opts.Width, opts.Height, opts.MaxIter)
	fmt.Fprintf(out, "workers:    %d\n", stats.Workers)
	fmt.Fprintf(out, "checksum:   %d\n", checksum.Load())
	fmt.Fprintf(out, "elapsed:    %s (%.0f rows/sec)\n", elapsed.Round(time.Microsecond), float64(rows)/elapsed.Seconds())
	fmt.Fprintf(out, "items:      %d queued, %d allocated\n", stats.ItemsQueued, stats.ItemsAllocated)
	fmt.Fprintf(out, "signals:    %d set events, %d extra items, %d spin loops\n", stats.SetEvents, stats.ExtraItems, stats.SpinLoops)
	for _, ws := range stats.WorkerStats {
		name := fmt.Sprintf("worker %d", ws.WorkerID)
		if ws.Helper {
			name = "helper"
		}
		fmt.Fprintf(out, "  %-9s %6d items  run %-12s spin %-12s wait %s\n",
			name, ws.ItemsExecuted, ws.RunTime.Round(time.Microsecond),
			ws.SpinTime.Round(time.Microsecond), ws.WaitTime.Round(time.Microsecond))
	}
	return nil
}

// renderFrame submits one item per row and returns the frame's checksum.
func renderFrame(q *workq.Queue, frame int, opts runOptions) (uint64, error) {
	rows := frameRows(frame, opts.Width, opts.Height, opts.MaxIter)

	first, err := workq.SubmitStrided(q, renderRow, len(rows), rows, 1, 0)
	if err != nil {
		return 0, err
	}
	if !first.WaitBatch(workq.Infinite) {
		return 0, workq.ErrTimeout
	}

	var sum uint64
	for it := first; it != nil; it = it.Next() {
		switch r := it.Result().(type) {
		case uint64:
			sum += r
		case error:
			err = errors.Join(err, r)
		}
	}
	return sum, errors.Join(err, first.ReleaseBatch())
}

// serveMetrics exposes the queue's statistics until the returned function
// is called.
func serveMetrics(addr string, q *workq.Queue, log logr.Logger) func() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector("render", q))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		<-done
	}
}
