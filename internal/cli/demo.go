package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/debugtail/internal/intercept"
	"github.com/ppiankov/debugtail/internal/sender"
)

var (
	demoProducers int
	demoEvents    int
	demoFile      string
	demoWorker    bool
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntVar(&demoProducers, "producers", 3, "Number of producer processes")
	demoCmd.Flags().IntVar(&demoEvents, "events", 20, "Events per producer")
	demoCmd.Flags().StringVar(&demoFile, "file", "", "Send through this event file instead of the socket")
	demoCmd.Flags().BoolVar(&demoWorker, "worker", false, "Run as a single producer")
	if err := demoCmd.Flags().MarkHidden("worker"); err != nil {
		panic(err)
	}
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run concurrent demo producers against a listener",
	Long:  "Starts several producer processes that send a mix of dumps, labels, timers,\nintercepted calls and errors. Run `debugtail listen` in another terminal first.",
	RunE:  runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	if demoWorker {
		return runDemoWorker()
	}
	if demoProducers < 1 || demoEvents < 1 {
		return errors.New("--producers and --events must be positive")
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	childArgs := []string{"demo", "--worker", "--events", strconv.Itoa(demoEvents)}
	if demoFile != "" {
		childArgs = append(childArgs, "--file", demoFile)
	}
	if configPath != "" {
		childArgs = append(childArgs, "--config", configPath)
	}

	fmt.Fprintf(os.Stderr, "Starting %d producers, %d events each\n", demoProducers, demoEvents)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < demoProducers; i++ {
		g.Go(func() error {
			c := exec.CommandContext(ctx, exe, childArgs...)
			c.Stdout = os.Stderr
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("producer %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Done in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

type order struct {
	ID    int     `json:"id"`
	Items int     `json:"items"`
	Total float64 `json:"total"`
}

func runDemoWorker() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if demoFile != "" {
		cfg.Producer.Transport = sender.TransportFile
		cfg.Producer.File = demoFile
	}
	sc, err := cfg.SenderConfig()
	if err != nil {
		return err
	}

	s := sender.New(sc, sender.WithLogger(logger))
	s.RegisterExitHook()
	defer s.Close()
	defer s.Recover()

	rules := cfg.InterceptRules()
	if len(cfg.Intercept) == 0 {
		rules.Set("inventory.Reserve", intercept.Logged)
		rules.Set("payments.Charge", intercept.Prevented)
	}
	reserve := intercept.Wrap(s, rules, "inventory.Reserve", func(o order) (int, error) {
		time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
		if o.Items > 4 {
			return 0, fmt.Errorf("only 4 left for order %d", o.ID)
		}
		return o.Items, nil
	}, 0)
	charge := intercept.Wrap(s, rules, "payments.Charge", func(o order) (string, error) {
		return "txn-" + strconv.Itoa(o.ID), nil
	}, "txn-skipped")

	s.Label("worker %d starting", os.Getpid())
	for i := 0; i < demoEvents; i++ {
		o := order{ID: i, Items: 1 + rand.IntN(6), Total: float64(rand.IntN(10000)) / 100}
		switch i % 4 {
		case 0:
			s.Dump(o)
		case 1:
			if _, err := reserve(o); err != nil {
				s.Error(err)
			}
		case 2:
			_, _ = charge(o)
		case 3:
			// Consecutive timers from this line collapse in the listener.
			for j := 0; j < 3; j++ {
				done := s.Timer("poll")
				time.Sleep(time.Duration(1+rand.IntN(5)) * time.Millisecond)
				done()
			}
		}
		time.Sleep(time.Duration(10+rand.IntN(40)) * time.Millisecond)
	}
	s.Memory("worker")
	s.Callstack()
	return nil
}
