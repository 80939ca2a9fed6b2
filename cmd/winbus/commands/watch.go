package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telnet2/winbus/internal/bus"
)

var watchNoSelf bool

var watchCmd = &cobra.Command{
	Use:   "watch [pattern]",
	Short: "Watch events and print them as JSON lines",
	Long: `Watch subscribes to events whose name matches the glob pattern
(default "**", everything) and prints each received envelope as one
JSON line. Runs until interrupted.

  winbus watch
  winbus watch 'session.*' --no-self`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoSelf, "no-self", false, "Skip events fired by this process")
}

func runWatch(cmd *cobra.Command, args []string) error {
	pattern := "**"
	if len(args) == 1 {
		pattern = args[0]
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, cleanup, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []bus.SubscribeOption
	if watchNoSelf {
		opts = append(opts, bus.SkipSelf())
	}

	enc := json.NewEncoder(os.Stdout)
	unsub, err := b.Subscribe(pattern, func(e bus.Envelope) {
		enc.Encode(e)
	}, opts...)
	if err != nil {
		return err
	}
	defer unsub()

	fmt.Fprintf(os.Stderr, "watching %q in %s (origin %s)\n", pattern, cfg.Store, b.Origin())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
