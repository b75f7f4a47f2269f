package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/lectern/audit"
	"github.com/teilomillet/lectern/mocks"
	"github.com/teilomillet/lectern/server"
)

const verseJSON = `{"verse":"Be strong and courageous.","reference":"Joshua 1:9","reflection":"God is with you.","prayer":"Make me brave."}`

// quietConfig keeps tests offline and their logs out of the way.
const quietConfig = "logging:\n  level: error\naudit:\n  token_model: \"\"\n"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lectern.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// execute runs the root command with a scripted backend and memory sink.
func execute(t *testing.T, backend *mocks.ScriptedBackend, args ...string) (string, *audit.MemorySink, error) {
	t.Helper()
	sink := audit.NewMemorySink()
	appOptions = []server.AppOption{server.WithBackend(backend), server.WithSink(sink)}
	genTemplate, genSystem, genUserID, genChildID, genContext, genShowRaw = "", "", "", "", "", false
	chatSystem, chatList, chatJSON = "", false, false
	t.Cleanup(func() { appOptions = nil })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), sink, err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, mocks.NewScriptedBackend(), "version")
	require.NoError(t, err)
	assert.Equal(t, "lectern "+Version+"\n", out)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "defaults", yaml: "llm:\n  model: llama3\n"},
		{name: "bad audit backend", yaml: "audit:\n  backend: paper\n", wantErr: true},
		{name: "bad yaml", yaml: "llm: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			out, _, err := execute(t, mocks.NewScriptedBackend(), "validate", "--config", path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "Configuration is valid")
			assert.Contains(t, out, "llama3")
		})
	}
}

func TestValidate_MissingFile(t *testing.T) {
	_, _, err := execute(t, mocks.NewScriptedBackend(), "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	path := writeConfig(t, quietConfig)
	backend := mocks.NewScriptedBackend("Here it is: <JSON>" + verseJSON + "</JSON>")

	out, sink, err := execute(t, backend, "generate", "--config", path, "--user", "u7", "verse_of_day", "courage", "verse")
	require.NoError(t, err)

	var resp server.GenerateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "verse_of_day", resp.Schema)
	assert.Equal(t, "markers", resp.Strategy)
	assert.Equal(t, "Joshua 1:9", resp.Fields["reference"])

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "courage verse")

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "u7", records[0].UserID)
}

func TestGenerate_UnknownSchema(t *testing.T) {
	path := writeConfig(t, quietConfig)
	_, _, err := execute(t, mocks.NewScriptedBackend(), "generate", "--config", path, "horoscope", "today")
	assert.Error(t, err)
}

func TestChat(t *testing.T) {
	path := writeConfig(t, quietConfig + "generation:\n  continuation:\n    min_words: 3\n")
	backend := mocks.NewScriptedBackend("Assistant: Share your lunch with a friend.")

	out, _, err := execute(t, backend, "chat", "--config", path, "How", "can", "I", "help?")
	require.NoError(t, err)
	assert.Equal(t, "Share your lunch with a friend.\n", out)

	out, _, err = execute(t, mocks.NewScriptedBackend("Share your lunch with a friend."), "chat", "--config", path, "--json", "Help?")
	require.NoError(t, err)
	var resp server.ChatResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "complete", resp.StopReason)
}
