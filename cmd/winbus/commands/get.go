package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telnet2/winbus/internal/kvstore"
)

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print the latest envelope fired for an event name",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, cleanup, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	e, err := b.Current(cmd.Context(), name)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return fmt.Errorf("no event fired for %q", name)
		}
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(e)
}
