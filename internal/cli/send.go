package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/debugtail/internal/event"
	"github.com/ppiankov/debugtail/internal/sender"
)

var (
	sendFile     string
	sendAddr     string
	sendDuration time.Duration
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendFile, "file", "", "Append to this event file instead of using the socket")
	sendCmd.Flags().StringVar(&sendAddr, "addr", "", "Listener address (default from config, 127.0.0.1:1729)")
	sendCmd.Flags().DurationVar(&sendDuration, "duration", 0, "Elapsed time to attach to the event")
}

var sendCmd = &cobra.Command{
	Use:   "send TYPE PAYLOAD...",
	Short: "Send one event from a shell script",
	Long:  "Sends a single event to the listener. TYPE is one of dump, label, timer, memory,\ncallstack, error, intercept, query, stream or cache.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	t, err := event.ParseType(args[0])
	if err != nil {
		return err
	}
	if t.Framing() || t == event.Raw {
		return fmt.Errorf("%s records are produced automatically", t)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sendFile != "" {
		cfg.Producer.Transport = sender.TransportFile
		cfg.Producer.File = sendFile
	}
	if sendAddr != "" {
		cfg.Producer.Transport = sender.TransportSocket
		cfg.Producer.Addr = sendAddr
	}

	sc, err := cfg.SenderConfig()
	if err != nil {
		return err
	}
	s := sender.New(sc, sender.WithLogger(logger))
	defer s.Close()

	s.Send(t, strings.Join(args[1:], " "), "", sendDuration)
	return nil
}
