package commands

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/loramesh/internal/ether"
	"github.com/1ureka/loramesh/internal/util"
)

var etherListen string

func init() {
	etherCmd.Flags().StringVarP(&etherListen, "listen", "l", "127.0.0.1:8787", "address to serve the ether on")
	rootCmd.AddCommand(etherCmd)
}

var etherCmd = &cobra.Command{
	Use:   "ether",
	Short: "Serve the shared air that ether radios broadcast on",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}

		srv := ether.NewServer()
		err := srv.ListenAndServe(cmd.Context(), etherListen)
		util.LogInfo("ether: %d frames relayed, %d dropped", srv.Frames(), srv.Dropped())
		return err
	},
}
