package cmd

import (
	"fmt"
	"io"

	"github.com/featurebasedb/gateway/ctl"
	"github.com/featurebasedb/gateway/server"
	"github.com/spf13/cobra"
)

// Server is global so that tests can control and verify it.
var Server *server.Command

func newServeCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	Server, err = server.NewCommand(stdin, stdout, stderr)
	if err != nil {
		panic(err)
	}
	mapSections["jdbc"] = &Server.Config.JDBC

	serveCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the gateway.",
		Long: `gateway server runs the gateway.

It registers the built-in connectors, loads the profiles and starts
listening for segment requests on the configured address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := Server.Start(); err != nil {
				return fmt.Errorf("running server: %v", err)
			}
			return Server.Wait()
		},
	}

	// Attach flags to the command.
	ctl.BuildServerFlags(serveCmd, Server)
	return serveCmd
}
