// cmd/uplink/subscribe.go
// Implements the `uplink subscribe` command: registers a listener on a topic
// and prints each delivery until interrupted.
package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/pkg/ulink"
	"github.com/Voskan/uplink/pkg/uprotocol"
)

func newSubscribeCmd() *cobra.Command {
	var (
		entity   string
		resource string
		instance string
		message  string
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to a topic and print deliveries",
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

			token, err := link.RegisterListener(topic, func(msg *uprotocol.UMessage, err error) {
				if err != nil {
					logging.Sugar().Warnw("delivery failed", "err", err)
					return
				}
				data, _ := msg.Payload.ValueBytes()
				logging.Sugar().Infow("received",
					"source", uprotocol.LongForm(*msg.Source),
					"payload", string(data))
			})
			if err != nil {
				return err
			}
			logging.Sugar().Infow("listener registered", "topic", uprotocol.LongForm(topic), "token", token)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			<-sigCh

			return link.UnregisterListener(topic, token)
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "body.access", "uEntity name")
	cmd.Flags().StringVar(&resource, "resource", "door", "Resource name")
	cmd.Flags().StringVar(&instance, "instance", "front_left", "Resource instance")
	cmd.Flags().StringVar(&message, "message", "Door", "Resource message type")
	return cmd
}
