package repl

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommands(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"hello there", Command{Kind: CmdSendText, Text: "hello there"}},
		{"/help", Command{Kind: CmdHelp}},
		{"/end fr", Command{Kind: CmdCloseClean}},
		{"/end", Command{Kind: CmdCloseAbrupt}},
		{"/error", Command{Kind: CmdInjectError}},
		{"/save /tmp/out", Command{Kind: CmdSetSaveDir, Text: "/tmp/out"}},
		{"/max 512", Command{Kind: CmdSetMaxFragment, N: 512}},
		{"/file /tmp/in.bin", Command{Kind: CmdSendFile, Text: "/tmp/in.bin"}},
		{"", Command{Kind: CmdEmpty}},
	}

	for _, c := range cases {
		got := Parse(c.line)
		assert.Equal(t, c.want, got, "parsing %q", c.line)
	}
}

func TestParseMaxRejectsNonInteger(t *testing.T) {
	got := Parse("/max not-a-number")
	assert.Equal(t, CmdHelp, got.Kind)
}

func TestSourceNextReadsLines(t *testing.T) {
	src := New(strings.NewReader("first message\n/max 64\n"))

	c1, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: CmdSendText, Text: "first message"}, c1)

	c2, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: CmdSetMaxFragment, N: 64}, c2)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}
