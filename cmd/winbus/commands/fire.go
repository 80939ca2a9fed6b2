package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var fireCmd = &cobra.Command{
	Use:   "fire <name> [payload-json]",
	Short: "Fire an event into the shared store",
	Long: `Fire writes the event's envelope into the shared store under the
namespace key for <name>. Every process watching the same store,
including this one, picks it up from its change notification.

The payload is a JSON object; it defaults to {}.

  winbus fire modelProvidersUpdated '{"ids":["a","b"]}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFire,
}

func runFire(cmd *cobra.Command, args []string) error {
	name := args[0]

	payload := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
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

	return b.Fire(cmd.Context(), name, payload)
}
