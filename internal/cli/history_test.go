package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal dispenses into a fresh database and returns its path and the
// machine ID.
func journal(t *testing.T, beverages ...string) (string, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "brew.db")
	args := append([]string{fixtureDir("coffee"), "--machine", "main", "--db", db}, beverages...)
	out, _, _ := runDispenseCmd(t, "json", args...)
	return db, decodeDispense(t, out).Data.MachineID
}

func runHistoryCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return out, cmd.Execute()
}

func TestHistory_JSON(t *testing.T) {
	db, id := journal(t, "ginger tea", "coffee")

	out, err := runHistoryCmd(t, "json", "--db", db, "--machine", id)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   []MachineHistory `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)

	m := resp.Data[0]
	assert.Equal(t, id, m.ID)
	assert.Equal(t, 3, m.Outlets)
	assert.Equal(t, "500", m.Stock["hot_water"])
	require.Len(t, m.Transactions, 2)

	outcomes := map[string]string{}
	for _, tx := range m.Transactions {
		assert.Equal(t, "dispense", tx.Kind)
		outcomes[tx.Subject] = tx.Outcome
	}
	assert.Equal(t, map[string]string{
		"ginger tea": "ok",
		"coffee":     "INGREDIENT_UNAVAILABLE",
	}, outcomes)
	assert.Less(t, m.Transactions[0].Seq, m.Transactions[1].Seq)
}

func TestHistory_Text(t *testing.T) {
	db, id := journal(t, "ginger tea")

	out, err := runHistoryCmd(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Machine "+id+": 3 outlet(s), serves ginger tea, elaichi tea, coffee")
	assert.Contains(t, out.String(), "dispense ginger tea: ok")
}

func TestHistory_UnknownMachine(t *testing.T) {
	db, _ := journal(t, "ginger tea")

	out, err := runHistoryCmd(t, "json", "--db", db, "--machine", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUnknownTarget, resp.Error.Code)
}

func TestHistory_MissingDatabase(t *testing.T) {
	out, err := runHistoryCmd(t, "text", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out.String(), ErrCodeStore)
}

func TestHistory_RequiresDB(t *testing.T) {
	_, err := runHistoryCmd(t, "text")
	require.Error(t, err)
}
