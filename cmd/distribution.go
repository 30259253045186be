package cmd

import (
	"context"
	"io"

	"github.com/featurebasedb/gateway/ctl"
	"github.com/spf13/cobra"
)

var distributioner *ctl.DistributionCommand

func newDistributionCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	distributioner = ctl.NewDistributionCommand(stdin, stdout, stderr)
	distributionCmd := &cobra.Command{
		Use:   "distribution",
		Short: "Show which segment reads each fragment.",
		Long: `
Prints the segment each fragment of a query is assigned to, for the given
number of segments, active segments, session id and command count.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return distributioner.Run(context.Background())
		},
	}
	flags := distributionCmd.Flags()

	flags.IntVarP(&distributioner.TotalSegments, "segments", "n", distributioner.TotalSegments, "Number of segments of the database")
	flags.IntVarP(&distributioner.ActiveSegments, "active-segments", "a", 0, "Number of segments which read fragments (0 for all)")
	flags.IntVar(&distributioner.SessionID, "session-id", 0, "Session id of the query")
	flags.IntVar(&distributioner.CommandCount, "command-count", 0, "Command count of the query")
	flags.IntVarP(&distributioner.Fragments, "fragments", "f", distributioner.Fragments, "Number of fragments")

	return distributionCmd
}
