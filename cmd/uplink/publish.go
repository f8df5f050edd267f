// cmd/uplink/publish.go
// Implements the `uplink publish` command: a periodic publisher pushing a
// text payload to a door-style topic URI.
//
// Typical usage:
//
//	uplink publish --endpoint ws://localhost:7447/ws --period 1s
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/internal/util"
	"github.com/Voskan/uplink/pkg/ulink"
	"github.com/Voskan/uplink/pkg/uprotocol"
)

func newPublishCmd() *cobra.Command {
	var (
		entity   string
		resource string
		instance string
		message  string
		text     string
		period   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a text payload to a topic on a fixed period",
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := ulink.New(substrateConfig())
			if err != nil {
				return err
			}
			defer link.Close()

			version := uint32(1)
			topic := uprotocol.UUri{
				Entity: &uprotocol.UEntity{Name: entity, VersionMajor: &version},
				Resource: &uprotocol.UResource{
					Name:     resource,
					Instance: instance,
					Message:  message,
				},
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			ticker := time.NewTicker(period)
			defer ticker.Stop()

			cnt := 0
			for {
				select {
				case <-sigCh:
					return nil
				case <-ticker.C:
				}
				attributes := uprotocol.PublishAttributes(uprotocol.UPriorityCS4).
					WithID(util.MustNewUUID()).
					Build()
				payload := uprotocol.TextPayload(fmt.Sprintf("%s [%d]", text, cnt))
				if err := link.Send(cmd.Context(), topic, payload, attributes); err != nil {
					return err
				}
				logging.Sugar().Infow("published", "topic", uprotocol.LongForm(topic), "cnt", cnt)
				cnt++
			}
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "body.access", "uEntity name")
	cmd.Flags().StringVar(&resource, "resource", "door", "Resource name")
	cmd.Flags().StringVar(&instance, "instance", "front_left", "Resource instance")
	cmd.Flags().StringVar(&message, "message", "Door", "Resource message type")
	cmd.Flags().StringVar(&text, "text", "Hello World!", "Payload text")
	cmd.Flags().DurationVar(&period, "period", time.Second, "Publish period")
	return cmd
}
