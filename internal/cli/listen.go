package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/debugtail/internal/listener"
	"github.com/ppiankov/debugtail/internal/render"
)

var (
	listenFile       string
	listenInterval   time.Duration
	listenFromStart  bool
	listenNoSocket   bool
	listenColor      string
	listenProfileOut string
	listenBacktraces bool
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenFile, "file", "", "Append-only event file to tail")
	listenCmd.Flags().DurationVar(&listenInterval, "interval", listener.DefaultInterval, "Poll interval")
	listenCmd.Flags().BoolVar(&listenFromStart, "from-start", false, "Render events already in the file")
	listenCmd.Flags().BoolVar(&listenNoSocket, "no-socket", false, "Only tail the file")
	listenCmd.Flags().StringVar(&listenColor, "color", "auto", "Color output: auto, always or never")
	listenCmd.Flags().StringVar(&listenProfileOut, "profile-out", "", "Write a pprof profile of received call stacks on exit")
	listenCmd.Flags().BoolVar(&listenBacktraces, "backtraces", false, "Print full backtraces under each event")
}

var listenCmd = &cobra.Command{
	Use:   "listen [port] [address]",
	Short: "Receive and render debug events",
	Long:  "Accepts producer connections on a TCP socket (default 127.0.0.1:1729) and tails the\nevent file. Repeated events from the same call site collapse into one line.\nA summary is printed on Ctrl+C.",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		cfg.Listen.Port = port
	}
	if len(args) > 1 {
		cfg.Listen.Address = args[1]
	}

	flags := cmd.Flags()
	if flags.Changed("file") {
		cfg.Listen.File = listenFile
	}
	if flags.Changed("interval") {
		cfg.Listen.Interval = listenInterval
	}
	if flags.Changed("from-start") {
		cfg.Listen.FromStart = listenFromStart
	}
	if flags.Changed("no-socket") {
		cfg.Listen.NoSocket = listenNoSocket
	}
	if flags.Changed("color") {
		cfg.Listen.Color = listenColor
	}
	if flags.Changed("profile-out") {
		cfg.Listen.ProfileOut = listenProfileOut
	}
	if flags.Changed("backtraces") {
		cfg.Listen.Backtraces = listenBacktraces
	}

	opts := []render.Option{
		render.WithDecorator(render.DecoratorFor(render.ColorMode(cfg.Listen.Color), os.Stdout)),
		render.WithBacktraces(cfg.Listen.Backtraces),
	}
	var prof *render.ProfileBuilder
	if cfg.Listen.ProfileOut != "" {
		prof = render.NewProfileBuilder()
		opts = append(opts, render.WithProfile(prof))
	}
	renderer := render.New(render.NewTerminalScreen(os.Stdout), opts...)

	l, err := listener.New(cfg.ListenerConfig(), renderer, listener.WithLogger(logger))
	if errors.Is(err, listener.ErrNoSource) {
		fmt.Fprintf(os.Stderr, "debugtail: cannot listen: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		return err
	}

	if setupErr := l.SetupErr(); setupErr != nil {
		fmt.Fprintf(os.Stderr, "warning: socket disabled, file only: %v\n", setupErr)
	}
	if addr := l.Addr(); addr != nil {
		fmt.Fprintf(os.Stderr, "debugtail listening on %s\n", addr)
	}
	if cfg.Listen.File != "" {
		fmt.Fprintf(os.Stderr, "Tailing: %s\n", cfg.Listen.File)
	}
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")
	fmt.Fprintln(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = l.Run(ctx)

	fmt.Fprintln(os.Stderr)
	fmt.Fprint(os.Stderr, renderer.Summary())

	if prof != nil {
		if perr := writeProfile(cfg.Listen.ProfileOut, prof); perr != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", perr)
		} else {
			fmt.Fprintf(os.Stderr, "Profile written to %s (%d stacks)\n", cfg.Listen.ProfileOut, prof.Len())
		}
	}
	return err
}

func writeProfile(path string, prof *render.ProfileBuilder) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	if err := prof.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
