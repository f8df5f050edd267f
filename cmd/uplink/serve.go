// cmd/uplink/serve.go
// Implements the `uplink serve` command: an RPC server answering every
// request with the current time.  The reply is driven from an application
// goroutine, never from the substrate callback itself, so callback threads
// are never blocked on the send path.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/pkg/ulink"
	"github.com/Voskan/uplink/pkg/uprotocol"
)

func newServeCmd() *cobra.Command {
	var (
		entity string
		method string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an RPC method that replies with the current time",
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := ulink.New(substrateConfig())
			if err != nil {
				return err
			}
			defer link.Close()

			version := uint32(1)
			uri := uprotocol.UUri{
				Entity:   &uprotocol.UEntity{Name: entity, VersionMajor: &version},
				Resource: uprotocol.ForRpcRequest(method),
			}

			token, err := link.RegisterRpcListener(uri, func(msg *uprotocol.UMessage, err error) {
				if err != nil {
					logging.Sugar().Warnw("request failed", "err", err)
					return
				}
				if data, ok := msg.Payload.ValueBytes(); ok {
					logging.Sugar().Infow("request",
						"source", uprotocol.LongForm(*msg.Source),
						"payload", string(data))
				}
				// Hand the reply off; Send must not run on the callback
				// goroutine.
				go func() {
					reply := uprotocol.TextPayload(time.Now().UTC().Format(time.RFC3339))
					attributes := *msg.Attributes
					attributes.Type = uprotocol.UMessageTypeResponse
					if err := link.Send(context.Background(), *msg.Source, reply, attributes); err != nil {
						logging.Sugar().Warnw("reply failed", "err", err)
					}
				}()
			})
			if err != nil {
				return err
			}
			logging.Sugar().Infow("rpc listener registered", "uri", uprotocol.LongForm(uri), "token", token)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			<-sigCh

			return link.UnregisterRpcListener(uri, token)
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "test_rpc.app", "uEntity name")
	cmd.Flags().StringVar(&method, "method", "getTime", "RPC method name")
	return cmd
}
