package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/vecmem/internal/budget"
	"github.com/rcliao/vecmem/internal/embedding"
	"github.com/rcliao/vecmem/internal/engine"
	"github.com/rcliao/vecmem/internal/health"
	"github.com/rcliao/vecmem/internal/model"
	"github.com/rcliao/vecmem/internal/retrieval"
	"github.com/rcliao/vecmem/internal/store"
	"github.com/rcliao/vecmem/internal/transport"
)

const offlineConfig = `embedding:
  primary:
    kind: none
  secondary:
    kind: none
logging:
  level: error
`

func runCLI(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		require.NoError(t, os.WriteFile(cfgPath, []byte(offlineConfig), 0o644))
	}
	resetFlags(RootCmd)
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs(append([]string{"--config", cfgPath, "--snapshot", filepath.Join(dir, "snapshot.db")}, args...))
	require.NoError(t, RootCmd.Execute())
	return out.String()
}

// resetFlags restores defaults; cobra keeps flag values between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestRememberRecallList(t *testing.T) {
	dir := t.TempDir()

	var rec view
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, dir, "remember", "the", "weather", "is", "sunny")), &rec))
	assert.Equal(t, "the weather is sunny", rec.Text)
	assert.Equal(t, model.RoleUser, rec.Role)
	assert.NotEmpty(t, rec.ID)

	var hits []view
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, dir, "recall", "the weather is sunny")), &hits))
	require.Len(t, hits, 1, "identical text embeds to the identical placeholder")
	assert.Equal(t, rec.ID, hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.1)

	ids := strings.Fields(runCLI(t, dir, "list", "--ids-only"))
	assert.Equal(t, []string{rec.ID}, ids)

	var got view
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, dir, "get", rec.ID)), &got))
	assert.Equal(t, rec.Text, got.Text)
}

func TestResetAndContext(t *testing.T) {
	dir := t.TempDir()
	runCLI(t, dir, "remember", "hello there")

	out := runCLI(t, dir, "context", "--block", "anything")
	assert.Contains(t, out, "user: hello there")

	assert.Contains(t, runCLI(t, dir, "reset"), `"cleared_turns":1`)

	var turns []view
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, dir, "list", "--conversation")), &turns))
	assert.Empty(t, turns)
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	runCLI(t, dir, "remember", "hello there")

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, dir, "stats")), &st))
	assert.EqualValues(t, 1, st["memories"])
	assert.EqualValues(t, 384, st["dimensions"])
	assert.Equal(t, "memory", st["store_kind"])
	assert.EqualValues(t, 1, st["unembedded"], "no embedding backend configured")
}

type scriptedResponder struct{ replies []string }

func (r *scriptedResponder) Respond(context.Context, transport.Request) (string, error) {
	if len(r.replies) == 0 {
		return "", nil
	}
	reply := r.replies[0]
	r.replies = r.replies[1:]
	return reply, nil
}
func (r *scriptedResponder) Ping(context.Context) error { return nil }
func (r *scriptedResponder) Close() error               { return nil }

func newChatSession(t *testing.T, out *bytes.Buffer) *chatSession {
	t.Helper()
	gw, err := embedding.NewGateway(embedding.GatewayConfig{Dimensions: 8, Logger: zerolog.Nop()})
	require.NoError(t, err)
	index, err := store.NewChromemStore(8)
	require.NoError(t, err)
	counter, err := budget.NewCounter(0)
	require.NoError(t, err)

	sup := health.New(gw, index, nil, 0, zerolog.Nop())
	eng := engine.New(engine.Deps{
		Embedder:  gw,
		Index:     index,
		Retriever: retrieval.New(retrieval.DefaultConfig(), gw, index, zerolog.Nop()),
		Assembler: budget.NewAssembler(counter, 0),
		Health:    sup,
		Logger:    zerolog.Nop(),
	}, engine.Options{MemoryEnabled: true})
	t.Cleanup(func() { eng.Close() })

	a := &app{
		mode:      model.ModeOmega,
		log:       zerolog.Nop(),
		gateway:   gw,
		index:     index,
		counter:   counter,
		responder: &scriptedResponder{replies: []string{"hi!", "sure"}},
		health:    sup,
		engine:    eng,
	}
	return &chatSession{app: a, out: out}
}

func TestChatLoop(t *testing.T) {
	var out bytes.Buffer
	s := newChatSession(t, &out)

	in := strings.NewReader("hello\n/mode lean\nremember this\n/stats\n/reset\n/bogus\n/quit\nnever sent\n")
	require.NoError(t, s.loop(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "hi!")
	assert.Contains(t, text, "mode lean (ceiling 2048)")
	assert.Contains(t, text, "sure")
	assert.Contains(t, text, "memories=4 turns=4")
	assert.Contains(t, text, "conversation cleared")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Equal(t, model.ModeLean, s.mode)
	assert.Empty(t, s.engine.Conversation())
	assert.Len(t, s.engine.Memories(), 4)
}

func TestChatPin(t *testing.T) {
	var out bytes.Buffer
	s := newChatSession(t, &out)
	ctx := context.Background()

	rec, err := s.engine.Commit(ctx, model.RoleUser, "keep me")
	require.NoError(t, err)

	require.NoError(t, s.loop(ctx, strings.NewReader("/pin "+rec.ID+"\n/unpin missing\n")))
	assert.Contains(t, out.String(), "pinned "+rec.ID)
	assert.Contains(t, out.String(), "[error]")

	got, err := s.engine.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
}
