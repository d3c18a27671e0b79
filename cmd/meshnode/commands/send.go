package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/loramesh/internal/app"
	"github.com/1ureka/loramesh/internal/config"
	"github.com/1ureka/loramesh/internal/mesh"
	"github.com/1ureka/loramesh/internal/protocol"
	"github.com/1ureka/loramesh/internal/util"
)

var (
	sendFrom    uint16
	sendTo      string
	sendType    string
	sendAck     bool
	sendTimeout time.Duration

	priceBase    string
	pricePercent int
)

func init() {
	for _, c := range []*cobra.Command{sendCmd, priceCmd} {
		c.Flags().Uint16Var(&sendFrom, "from", 0, "node id to send as (default node.id)")
		c.Flags().DurationVar(&sendTimeout, "timeout", 0, "how long to wait for the ACK (default covers every retry)")
	}
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "broadcast", "destination node id, hub or broadcast")
	sendCmd.Flags().StringVar(&sendType, "type", "data", "message type name or number")
	sendCmd.Flags().BoolVarP(&sendAck, "ack", "a", false, "request an acknowledgement")

	priceCmd.Flags().StringVar(&priceBase, "base", "", "price before discount")
	priceCmd.Flags().IntVar(&pricePercent, "percent", 0, "discount percent")

	rootCmd.AddCommand(sendCmd, priceCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [flags] <text>...",
	Short: "Send one message over the mesh and wait for its ACK",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := parseAddress(sendTo)
		if err != nil {
			return err
		}
		typ, err := parseMsgType(sendType)
		if err != nil {
			return err
		}

		return withNode(cmd, func(ctx context.Context, cfg *config.Config, node *mesh.Node) error {
			id, err := node.Send([]byte(strings.Join(args, " ")), to, typ, sendAck, cfg.Mesh.FragmentDelay)
			if err != nil {
				return err
			}
			util.LogSuccess("sent %s 0x%06X to %d", typ, id, to)
			if !sendAck {
				return nil
			}
			return awaitAck(ctx, cfg, node, id)
		})
	},
}

var priceCmd = &cobra.Command{
	Use:   "price <pricer-id> <name> <price>",
	Short: "Push a price to a pricer display",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		price, err := parsePriceVal(args[2])
		if err != nil {
			return err
		}
		data := &app.PriceData{Name: args[1], Price: price}
		if priceBase != "" {
			base, err := parsePriceVal(priceBase)
			if err != nil {
				return err
			}
			data.Discount = &app.Discount{BasePrice: base, Percent: pricePercent}
		}

		return withNode(cmd, func(ctx context.Context, cfg *config.Config, node *mesh.Node) error {
			id, err := app.SendPrice(node, to, data, cfg.Mesh.FragmentDelay)
			if err != nil {
				return err
			}
			return awaitAck(ctx, cfg, node, id)
		})
	},
}

// withNode opens the configured radio, starts a node on it and runs fn.
func withNode(cmd *cobra.Command, fn func(context.Context, *config.Config, *mesh.Node) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("from") {
		cfg.Node.ID = protocol.Address(sendFrom)
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
	return fn(ctx, cfg, node)
}

// awaitAck polls node until msgID is acknowledged, its retries run out or
// the timeout passes. Retransmissions carry new ids, so progress is read
// from the node's ACK and timeout counters rather than from msgID.
func awaitAck(ctx context.Context, cfg *config.Config, node *mesh.Node, msgID uint32) error {
	timeout := sendTimeout
	if timeout <= 0 {
		timeout = cfg.Mesh.AckTimeout*time.Duration(cfg.Mesh.MaxRetries+2) + time.Second
	}
	deadline := time.Now().Add(timeout)
	start := node.Stats()

	ticker := time.NewTicker(cfg.App.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, msg := range node.Poll() {
			util.LogInfo("%s from %d: %q", msg.Header.Type, msg.Header.Origin, msg.Payload)
		}
		st := node.Stats()
		if st.AcksReceived > start.AcksReceived {
			util.LogSuccess("0x%06X acknowledged", msgID)
			return nil
		}
		if st.Timeouts > start.Timeouts {
			return fmt.Errorf("0x%06X: no ACK after %d retries", msgID, cfg.Mesh.MaxRetries)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("0x%06X: no ACK within %s", msgID, timeout)
		}
	}
}
