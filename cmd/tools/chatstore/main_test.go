package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion/backend/internal/service/chat"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(viper.New(), &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeImport(t *testing.T, values map[string]string) string {
	t.Helper()
	data, err := json.Marshal(values)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestImportThenDump(t *testing.T) {
	store := filepath.Join(t.TempDir(), "kv.db")
	file := writeImport(t, map[string]string{
		chat.KeyChats:    `[{"id":"a","title":"New Chat"}]`,
		chat.KeyLanguage: "hi",
	})

	out, err := run(t, "import", file, "--store-path", store)
	require.NoError(t, err)
	require.Equal(t, "imported 2 keys\n", out)

	out, err = run(t, "dump", "--store-path", store)
	require.NoError(t, err)
	var dumped map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &dumped))
	require.Equal(t, "hi", dumped[chat.KeyLanguage])

	out, err = run(t, "dump", "--key", chat.KeyChats, "--store-path", store)
	require.NoError(t, err)
	require.Equal(t, `[{"id":"a","title":"New Chat"}]`+"\n", out)

	_, err = run(t, "dump", "--key", "missing", "--store-path", store)
	require.Error(t, err)
}

func TestStorePathFromEnv(t *testing.T) {
	store := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("CHATSTORE_STORE_PATH", store)

	_, err := run(t, "import", writeImport(t, map[string]string{chat.KeyLanguage: "ta"}))
	require.NoError(t, err)

	out, err := run(t, "dump", "--key", chat.KeyLanguage)
	require.NoError(t, err)
	require.Equal(t, "ta\n", out)
}

func TestImportRejectsNonStringValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chats":[{"id":"a"}]}`), 0o600))

	_, err := run(t, "import", path, "--store-path", filepath.Join(t.TempDir(), "kv.db"))
	require.Error(t, err)
}

func TestRepairFixesInterruptedArchive(t *testing.T) {
	store := filepath.Join(t.TempDir(), "kv.db")
	file := writeImport(t, map[string]string{
		chat.KeyChats:            `[{"id":"a","title":"Trip"}]`,
		chat.KeyArchivedChats:    `[{"id":"a","title":"Trip"}]`,
		chat.KeyMessages:         `{}`,
		chat.KeyArchivedMessages: `{"a":[{"sender":"user","text":"hi","created_at":"2024-01-01T00:00:00Z"}]}`,
		chat.KeyHasLaunched:      "true",
	})
	_, err := run(t, "import", file, "--store-path", store)
	require.NoError(t, err)

	out, err := run(t, "repair", "--store-path", store)
	require.NoError(t, err)
	var rep chat.RepairReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Equal(t, []string{"a"}, rep.DuplicateChats)

	out, err = run(t, "dump", "--key", chat.KeyChats, "--store-path", store)
	require.NoError(t, err)
	require.Equal(t, "[]\n", out)
}
