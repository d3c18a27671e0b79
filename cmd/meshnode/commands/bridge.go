package commands

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/loramesh/internal/ether"
	"github.com/1ureka/loramesh/internal/radio"
	"github.com/1ureka/loramesh/internal/signaling"
	"github.com/1ureka/loramesh/internal/transport"
	"github.com/1ureka/loramesh/internal/util"
)

var (
	bridgeHost bool
	bridgeURL  string
)

func init() {
	bridgeCmd.Flags().BoolVar(&bridgeHost, "host", false, "host the signaling server and wait for a peer")
	bridgeCmd.Flags().StringVar(&bridgeURL, "url", "", "host signaling address with its pin, e.g. 10.0.0.2:40123?pin=123456")
	bridgeCmd.MarkFlagsMutuallyExclusive("host", "url")
	bridgeCmd.MarkFlagsOneRequired("host", "url")
	rootCmd.AddCommand(bridgeCmd)
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Join the local ether to a remote one over a WebRTC DataChannel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		local, err := ether.Dial(ctx, cfg.Radio.URL, cfg.Radio.ReadyTimeout)
		if err != nil {
			return err
		}
		defer local.Close()

		opts := transport.Options{
			STUNServers:  cfg.Bridge.STUNServers,
			ReadyTimeout: cfg.Radio.ReadyTimeout,
		}

		var tr *transport.Transport
		if bridgeHost {
			tr, err = signaling.EstablishAsHost(ctx, signaling.HostConfig{
				Listen:    cfg.Bridge.Listen,
				PIN:       cfg.Bridge.PIN,
				Transport: opts,
			})
		} else {
			tr, err = signaling.EstablishAsClient(ctx, bridgeURL, opts)
		}
		if err != nil {
			return err
		}
		defer tr.Close()

		util.LogSuccess("bridge established, relaying %s to the remote segment", cfg.Radio.URL)
		return radio.Bridge(ctx, local, tr)
	},
}
