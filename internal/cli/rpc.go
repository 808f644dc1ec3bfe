package cli

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/harun/ranya-sessions/pkg/gateway"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const maxRPCLine = 16 * 1024 * 1024

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Serve session methods as JSON-RPC over stdin/stdout",
	Long: `Read one JSON-RPC 2.0 request per line from stdin and write one response
per line to stdout. Available methods: sessions.list, sessions.preview,
sessions.resolve, sessions.patch, sessions.reset, sessions.delete,
sessions.compact and sessions.append.`,
	Args: cobra.NoArgs,
	RunE: runRPC,
}

func init() {
	rootCmd.AddCommand(rpcCmd)
}

func runRPC(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		router := gateway.NewRPCRouter()
		if err := gateway.NewSessionMethods(a.service).Register(router); err != nil {
			return fmt.Errorf("failed to register session methods: %w", err)
		}
		log.Debug().Strs("methods", router.GetMethods()).Msg("RPC methods registered")

		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64*1024), maxRPCLine)
		out := cmd.OutOrStdout()

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			resp, err := router.Handle(cmd.Context(), line)
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			if _, err := fmt.Fprintf(out, "%s\n", resp); err != nil {
				return err
			}

			if err := cmd.Context().Err(); err != nil {
				return err
			}
		}
		return scanner.Err()
	})
}
