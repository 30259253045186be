package ctl_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/ctl"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/server"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConfigCommand_Run(t *testing.T) {
	buf := &bytes.Buffer{}
	cm := ctl.NewGenerateConfigCommand(nil, buf, io.Discard)
	require.NoError(t, cm.Run(context.Background()))
	assert.Contains(t, buf.String(), `bind = ":5888"`)
	assert.Contains(t, buf.String(), "[fragmenter-cache]")

	// The output is a valid configuration.
	var conf server.Config
	require.NoError(t, toml.Unmarshal(buf.Bytes(), &conf))
	assert.Equal(t, server.NewConfig().FragmenterCache, conf.FragmenterCache)
}

func TestDistributionCommand_Run(t *testing.T) {
	buf := &bytes.Buffer{}
	cm := ctl.NewDistributionCommand(nil, buf, io.Discard)
	cm.TotalSegments = 3
	cm.Fragments = 5
	cm.SessionID = 1
	require.NoError(t, cm.Run(context.Background()))

	// shift is 1, so fragment 0 goes to segment 1.
	lines := strings.Split(buf.String(), "\n")
	var rows []string
	for _, l := range lines {
		if strings.HasPrefix(l, "| ") {
			rows = append(rows, strings.Join(strings.Fields(strings.ReplaceAll(l, "|", " ")), " "))
		}
	}
	assert.Equal(t, []string{
		"segment count fragments",
		"0 1 2",
		"1 2 0,3",
		"2 2 1,4",
		"total 5",
	}, rows)
}

func TestDistributionCommand_Errors(t *testing.T) {
	cm := ctl.NewDistributionCommand(nil, io.Discard, io.Discard)
	cm.TotalSegments = 2
	cm.ActiveSegments = 3
	err := cm.Run(context.Background())
	assert.True(t, errors.Is(err, gateway.ErrParameterRange))

	cm.ActiveSegments = 0
	cm.TotalSegments = 0
	err = cm.Run(context.Background())
	assert.True(t, errors.Is(err, gateway.ErrParameterRange))
}

func TestBuildServerFlags(t *testing.T) {
	srv, err := server.NewCommand(nil, io.Discard, io.Discard)
	require.NoError(t, err)
	cmd := &cobra.Command{Use: "server"}
	ctl.BuildServerFlags(cmd, srv)

	require.NoError(t, cmd.Flags().Parse([]string{
		"--bind", "localhost:7777",
		"--fragmenter-cache.expiration", "1m",
		"--kafka.brokers", "k1:9092,k2:9092",
		"--tracing.sampler-type", "const",
	}))
	assert.Equal(t, "localhost:7777", srv.Config.Bind)
	assert.Equal(t, "1m0s", srv.Config.FragmenterCache.Expiration.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, srv.Config.Kafka.Brokers)
	assert.Equal(t, "const", srv.Config.Tracing.SamplerType)
}
