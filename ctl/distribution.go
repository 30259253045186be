package ctl

import (
	"context"
	"fmt"
	"io"
	"strings"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/fragmenter"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// DistributionCommand prints which segment reads each fragment of a query,
// as the fragmenter service assigns them.
type DistributionCommand struct {
	TotalSegments  int
	ActiveSegments int
	SessionID      int
	CommandCount   int
	Fragments      int

	*gateway.CmdIO
}

// NewDistributionCommand returns a new instance of DistributionCommand.
func NewDistributionCommand(stdin io.Reader, stdout, stderr io.Writer) *DistributionCommand {
	return &DistributionCommand{
		TotalSegments: 3,
		Fragments:     10,
		CmdIO:         gateway.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run prints a table with a row per segment.
func (cmd *DistributionCommand) Run(_ context.Context) error {
	if cmd.TotalSegments < 1 {
		return gateway.NewErrParameterRange("segments", cmd.TotalSegments, 1, 1<<31-1)
	}
	active := cmd.ActiveSegments
	if active == 0 {
		active = cmd.TotalSegments
	}
	if active < 1 || active > cmd.TotalSegments {
		return gateway.NewErrParameterRange(fragmenter.ActiveSegmentCountOption, active, 1, cmd.TotalSegments)
	}
	if cmd.Fragments < 0 {
		return gateway.NewErrParameterRange("fragments", cmd.Fragments, 0, 1<<31-1)
	}

	d := fragmenter.Distribution{
		TotalSegments:  cmd.TotalSegments,
		ActiveSegments: active,
		SessionID:      cmd.SessionID,
		CommandCount:   cmd.CommandCount,
	}
	assigned := make([][]string, cmd.TotalSegments)
	for i, seg := range d.Segments(cmd.Fragments) {
		assigned[seg] = append(assigned[seg], fmt.Sprint(i))
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.Stdout)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"segment", "count", "fragments"})
	for seg, frags := range assigned {
		t.AppendRow(table.Row{seg, len(frags), strings.Join(frags, ",")})
	}
	t.AppendFooter(table.Row{"total", cmd.Fragments, ""})
	t.Render()
	return nil
}
