package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "wwwallet/internal/jwt_token"
	"wwwallet/internal/platform/metrics"
	"wwwallet/internal/privatedata/handler"
	"wwwallet/internal/privatedata/store"
	"wwwallet/internal/walletstate"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func decode(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

// writeReplicas writes two containers that share one event and then each
// add a credential of their own.
func writeReplicas(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	engine := walletstate.New()

	base, _, err := engine.AlterSettings(ctx, walletstate.NewContainer(), map[string]string{"theme": "dark"})
	require.NoError(t, err)
	a, _, err := engine.AddCredentials(ctx, base, []walletstate.NewCredential{{Data: "a", Format: "vc+sd-jwt"}})
	require.NoError(t, err)
	b, _, err := engine.AddCredentials(ctx, base, []walletstate.NewCredential{{Data: "b", Format: "mso_mdoc"}})
	require.NoError(t, err)

	dir := t.TempDir()
	pathA, pathB := filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")
	require.NoError(t, writeContainer(pathA, a))
	require.NoError(t, writeContainer(pathB, b))
	return pathA, pathB
}

func TestInvalidFormat(t *testing.T) {
	pathA, _ := writeReplicas(t)
	_, err := execute(t, "--format", "yaml", "inspect", pathA)
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	pathA, _ := writeReplicas(t)

	out, err := execute(t, "inspect", pathA)
	require.NoError(t, err)
	assert.Contains(t, out, "credentials: 1")
	assert.Contains(t, out, "tail events: 2")

	out, err = execute(t, "--format", "json", "inspect", pathA)
	require.NoError(t, err)
	resp := decode(t, out)
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 2, data["tailEvents"])
}

func TestVerify(t *testing.T) {
	pathA, _ := writeReplicas(t)
	out, err := execute(t, "verify", pathA)
	require.NoError(t, err)
	assert.Contains(t, out, "history verified")

	t.Run("broken chain", func(t *testing.T) {
		c, err := readContainer(pathA)
		require.NoError(t, err)
		c.TailEvents[1].PrevHash = "elsewhere"
		broken := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, writeContainer(broken, c))

		out, err := execute(t, "--format", "json", "verify", broken)
		require.Error(t, err)
		assert.Equal(t, "error", decode(t, out).Status)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "verify", filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}

func TestFold(t *testing.T) {
	pathA, _ := writeReplicas(t)
	folded := filepath.Join(t.TempDir(), "folded.json")

	out, err := execute(t, "fold", "--keep", "1", "-o", folded, pathA)
	require.NoError(t, err)
	assert.Contains(t, out, "folded 1 events, kept 1")

	c, err := readContainer(folded)
	require.NoError(t, err)
	assert.Len(t, c.TailEvents, 1)
	assert.NotEmpty(t, c.LastFoldedEventHash)
	assert.Equal(t, "dark", c.BaseState.Settings["theme"])
}

func TestMerge(t *testing.T) {
	pathA, pathB := writeReplicas(t)
	merged := filepath.Join(t.TempDir(), "merged.json")

	out, err := execute(t, "--format", "json", "merge", pathA, pathB, "-o", merged)
	require.NoError(t, err)
	data := decode(t, out).Data.(map[string]any)
	assert.Equal(t, walletstate.MergeMerged, data["outcome"])
	assert.EqualValues(t, 1, data["common"])

	c, err := readContainer(merged)
	require.NoError(t, err)
	state := walletstate.New().CalculateState(context.Background(), c)
	assert.Len(t, state.Credentials, 2)

	t.Run("merge is symmetric", func(t *testing.T) {
		reversed := filepath.Join(t.TempDir(), "reversed.json")
		_, err := execute(t, "merge", pathB, pathA, "-o", reversed)
		require.NoError(t, err)
		other, err := readContainer(reversed)
		require.NoError(t, err)
		assert.True(t, c.SameHistory(other))
	})
}

func TestMetricsOut(t *testing.T) {
	pathA, pathB := writeReplicas(t)
	dir := t.TempDir()
	metricsFile := filepath.Join(dir, "metrics.prom")

	_, err := execute(t, "--metrics-out", metricsFile, "merge", pathA, pathB, "-o", filepath.Join(dir, "merged.json"))
	require.NoError(t, err)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `wwwallet_walletstate_merges_total{outcome="merged"} 1`)

	t.Run("set reports appended events", func(t *testing.T) {
		t.Setenv("WALLET_ID", "w1")
		t.Setenv("WALLET_MAIN_KEY", strings.Repeat("42", 32))
		t.Setenv("WALLET_REMOTE_URL", "")
		t.Setenv("WALLET_KEEP_EVENTS", "")
		t.Setenv("WALLET_MAX_SYNC_ATTEMPTS", "")
		t.Setenv("WALLET_LOCAL_DB", filepath.Join(dir, "device.db"))

		_, err := execute(t, "--metrics-out", metricsFile, "set", "theme=dark")
		require.NoError(t, err)
		data, err := os.ReadFile(metricsFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `wwwallet_walletstate_events_appended_total{kind="alter_settings"} 1`)
	})
}

func TestParseSettings(t *testing.T) {
	settings, err := parseSettings([]string{"theme=dark", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "dark", "empty": ""}, settings)

	_, err = parseSettings([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseSettings([]string{"=x"})
	assert.Error(t, err)
}

func TestSyncBetweenDevices(t *testing.T) {
	jwt := jwttoken.NewJWTService("test-key", "wwwallet", "wwwallet-private-data")
	h := handler.New(store.NewInMemoryStore(), jwttoken.NewJWTServiceAdapter(jwt),
		slog.New(slog.DiscardHandler), metrics.New(prometheus.NewRegistry()))
	r := chi.NewRouter()
	h.Register(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	token, err := jwt.GenerateAccessToken("w1", "cli", time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	t.Setenv("WALLET_ID", "w1")
	t.Setenv("WALLET_MAIN_KEY", strings.Repeat("42", 32))
	t.Setenv("WALLET_REMOTE_URL", server.URL)
	t.Setenv("WALLET_TOKEN", token)
	t.Setenv("WALLET_KEEP_EVENTS", "")
	t.Setenv("WALLET_MAX_SYNC_ATTEMPTS", "")

	t.Setenv("WALLET_LOCAL_DB", filepath.Join(dir, "device-a.db"))
	_, err = execute(t, "set", "theme=dark")
	require.NoError(t, err)
	_, err = execute(t, "sync")
	require.NoError(t, err)

	t.Setenv("WALLET_LOCAL_DB", filepath.Join(dir, "device-b.db"))
	out, err := execute(t, "--format", "json", "set", "lang=en")
	require.NoError(t, err)
	settings := decode(t, out).Data.(map[string]any)
	assert.Equal(t, "dark", settings["theme"])
	assert.Equal(t, "en", settings["lang"])

	t.Run("sync requires a legacy url to migrate", func(t *testing.T) {
		t.Setenv("WALLET_LEGACY_URL", "")
		_, err := execute(t, "sync", "--migrate")
		assert.Error(t, err)
	})
}
