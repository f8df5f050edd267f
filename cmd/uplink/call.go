// cmd/uplink/call.go
// Implements the `uplink call` command: invokes an RPC method once and
// prints the reply payload.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Voskan/uplink/internal/util"
	"github.com/Voskan/uplink/pkg/ulink"
	"github.com/Voskan/uplink/pkg/uprotocol"
)

func newCallCmd() *cobra.Command {
	var (
		entity string
		method string
		text   string
		ttl    int32
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Invoke an RPC method and print the reply",
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

			reqid := util.MustNewUUID()
			attributes := uprotocol.RequestAttributes(uprotocol.UPriorityCS4, ttl).
				WithID(util.MustNewUUID()).
				WithReqID(reqid).
				Build()

			result, err := link.InvokeMethod(cmd.Context(), uri, uprotocol.TextPayload(text), attributes)
			if err != nil {
				return err
			}
			data, _ := result.ValueBytes()
			fmt.Printf("Receive %s\n", string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "test_rpc.app", "uEntity name")
	cmd.Flags().StringVar(&method, "method", "getTime", "RPC method name")
	cmd.Flags().StringVar(&text, "text", "GetCurrentTime", "Request payload text")
	cmd.Flags().Int32Var(&ttl, "ttl", 100, "Request TTL in milliseconds")
	return cmd
}
