package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLines(t *testing.T, input string) []map[string]interface{} {
	t.Helper()
	t.Setenv("ATTESTIX_DATA_DIR", t.TempDir())
	t.Setenv("EVM_PRIVATE_KEY", "")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"attestix"}, strings.NewReader(input), &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line %q", line)
		out = append(out, m)
	}
	return out
}

func TestServeRoundTrip(t *testing.T) {
	input := `{"tool":"create_agent_identity","arguments":{"display_name":"Echo"}}
not json
{"arguments":{}}
{"tool":"no_such_tool","arguments":{}}
`
	replies := runLines(t, input)
	require.Len(t, replies, 4)

	assert.Regexp(t, `^attestix:[0-9a-f]{12}$`, replies[0]["agent_id"])
	assert.Contains(t, replies[1]["error"], "bad request")
	assert.Contains(t, replies[2]["error"], "tool name is required")
	assert.Contains(t, replies[3]["error"], "unknown tool")
}

func TestToolsSubcommand(t *testing.T) {
	t.Setenv("ATTESTIX_DATA_DIR", t.TempDir())
	t.Setenv("EVM_PRIVATE_KEY", "")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"attestix", "tools"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code)

	names := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	assert.Len(t, names, 48)
	assert.Contains(t, names, "verify_presentation")
}
