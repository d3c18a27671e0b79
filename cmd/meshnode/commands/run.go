package commands

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/loramesh/internal/app"
	"github.com/1ureka/loramesh/internal/config"
	"github.com/1ureka/loramesh/internal/mesh"
	"github.com/1ureka/loramesh/internal/metrics"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/util"
)

var (
	runNodeID uint16
	runRole   string
)

func init() {
	runCmd.Flags().Uint16Var(&runNodeID, "id", 0, "override node.id")
	runCmd.Flags().StringVar(&runRole, "role", "", "override app.role: hub, pricer or auto")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a mesh node with the hub or pricer application",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunOverrides(cfg, cmd); err != nil {
			return err
		}
		ctx := cmd.Context()

		port, closeRadio, err := app.OpenTransceiver(ctx, cfg.Radio)
		if err != nil {
			return err
		}
		defer closeRadio()

		node, err := mesh.NewNode(cfg.Mesh, cfg.Node.ID, port)
		if err != nil {
			return err
		}

		if cfg.Metrics.Listen != "" {
			collector := metrics.NewCollector(node.Address(), node.Stats)
			go func() {
				if err := metrics.Serve(ctx, cfg.Metrics.Listen, collector); err != nil {
					util.LogError("metrics: %v", err)
				}
			}()
		}
		util.StartStatsReporter(ctx, cfg.App.StatsInterval, func() []util.Counter {
			return node.Stats().Counters()
		})

		return app.Run(ctx, cfg, node, nil)
	},
}

// applyRunOverrides copies explicitly set flags into cfg and revalidates it.
func applyRunOverrides(cfg *config.Config, cmd *cobra.Command) error {
	if cmd.Flags().Changed("id") {
		cfg.Node.ID = protocol.Address(runNodeID)
	}
	if cmd.Flags().Changed("role") {
		cfg.App.Role = config.Role(runRole)
	}
	return cfg.Validate()
}
