package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/debugtail/internal/callstack"
)

var (
	stackExclude []string
	stackKeepAll bool
	stackRaw     bool
)

func init() {
	rootCmd.AddCommand(stackCmd)
	stackCmd.Flags().StringArrayVar(&stackExclude, "exclude", nil, "Regex on Type::function to drop (repeatable)")
	stackCmd.Flags().BoolVar(&stackKeepAll, "keep-all", false, "Keep entries with ordinal 0 and line 0")
	stackCmd.Flags().BoolVar(&stackRaw, "raw", false, "Print backtrace text as sent on the wire")
}

var stackCmd = &cobra.Command{
	Use:   "stack [report-file]",
	Short: "Normalize the call stack of a crash report",
	Long:  "Parses a fatal error or out-of-memory report (stdin when no file is given) and\nprints its call stack innermost first, each function next to its own location.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStack,
}

func runStack(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open report: %w", err)
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	var opts []callstack.Option
	if stackKeepAll {
		opts = append(opts, callstack.WithDropPolicy(callstack.KeepAll))
	}
	cs, err := callstack.ParseReport(string(data), opts...)
	if err != nil {
		return err
	}
	if cs, err = cs.FilterStrings(stackExclude...); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	out := cmd.OutOrStdout()
	if stackRaw {
		fmt.Fprintln(out, cs.Format())
		return nil
	}
	return printStack(out, cs)
}

func printStack(w io.Writer, cs callstack.Callstack) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, f := range cs.Frames() {
		var extra []string
		if f.Time > 0 {
			extra = append(extra, f.Time.String())
		}
		if f.Memory > 0 {
			extra = append(extra, humanize.IBytes(uint64(f.Memory)))
		}
		fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\n", i, f.Display(), f.Location(), strings.Join(extra, " "))
	}
	return tw.Flush()
}
