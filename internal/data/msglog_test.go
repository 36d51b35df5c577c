package data

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
)

func TestMessageLog_RecordsLengthNotText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "c3poh.log")
	msgLog, closer, err := NewMessageLogRepo(path)
	require.NoError(t, err)

	msgLog.LogMessage(42, 42, "secret plan ✨", repo.DirectionIn)
	msgLog.LogBlocked(7, -100)
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, entries, 2)

	assert.Equal(t, "message", entries[0]["event"])
	assert.Equal(t, "in", entries[0]["direction"])
	assert.Equal(t, float64(42), entries[0]["user_id"])
	assert.Equal(t, float64(13), entries[0]["text_length"])
	assert.NotEmpty(t, entries[0]["ts"])

	assert.Equal(t, "blocked", entries[1]["event"])
	assert.Equal(t, float64(7), entries[1]["user_id"])
	assert.Equal(t, float64(-100), entries[1]["chat_id"])
	assert.NotContains(t, entries[1], "direction")
}
