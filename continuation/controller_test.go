package continuation

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/lectern/completion"
	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/mocks"
	"github.com/teilomillet/lectern/prompt"
	"github.com/teilomillet/lectern/schema"
)

type checkerFunc func(string) (bool, string)

func (f checkerFunc) Incomplete(s string) (bool, string) { return f(s) }

var alwaysIncomplete = checkerFunc(func(string) (bool, string) { return true, "test" })

func newTestController(t *testing.T) (*Controller, *prompt.Builder, *schema.Definition) {
	t.Helper()
	cfg := config.DefaultConfig()
	b := prompt.NewBuilder(cfg.Generation, cfg.LLM)
	def, ok := schema.Builtin().Lookup(schema.ChatName)
	require.True(t, ok)
	return NewController(b, cfg.Generation.Continuation, nil), b, def
}

func baseRequest(t *testing.T, b *prompt.Builder, def *schema.Definition) completion.Request {
	t.Helper()
	req, err := b.Build(prompt.Params{Schema: def, Instruction: "Tell a story."})
	require.NoError(t, err)
	return req
}

func TestRun_StopsAtIterationCap(t *testing.T) {
	c, b, def := newTestController(t)
	var calls int32
	backend := completion.BackendFunc(func(ctx context.Context, req completion.Request) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		return fmt.Sprintf("Part %d of a story that never seems to find its ending", n), nil
	})

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Calls)
	assert.Equal(t, int32(8), atomic.LoadInt32(&calls))
	assert.Equal(t, StopMaxIterations, res.Stop)
	assert.Contains(t, res.Text, "Part 1 ")
	assert.Contains(t, res.Text, "Part 8 ")
}

func TestRun_StopsAtFirstRepetition(t *testing.T) {
	c, b, def := newTestController(t)
	chunk := "and then the shepherd counted every sheep again"
	backend := mocks.NewScriptedBackend("Once upon a time", chunk, chunk, "never reached")

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Calls)
	assert.Equal(t, 3, backend.Calls())
	assert.Equal(t, StopRepeated, res.Stop)
	assert.Equal(t, "Once upon a time "+chunk, res.Text)
	assert.Equal(t, 1, strings.Count(res.Text, chunk))
}

func TestRun_RepeatOfFirstOutput(t *testing.T) {
	c, b, def := newTestController(t)
	first := "In the beginning God created the heavens and the earth"
	backend := mocks.NewScriptedBackend(first, "  IN THE BEGINNING god created the heavens\nand the earth")

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, StopRepeated, res.Stop)
	assert.Equal(t, first, res.Text)
}

func TestRun_CompleteFirstTime(t *testing.T) {
	c, b, def := newTestController(t)
	backend := mocks.NewScriptedBackend("Done.")
	complete := checkerFunc(func(string) (bool, string) { return false, "" })

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, complete)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calls)
	assert.Equal(t, StopComplete, res.Stop)
	assert.Equal(t, "Done.", res.Text)
}

func TestRun_ContinuesUntilComplete(t *testing.T) {
	c, b, def := newTestController(t)
	backend := mocks.NewScriptedBackend("David picked up five smooth", "five smooth stones from the stream.")
	checker := checkerFunc(func(s string) (bool, string) {
		return !strings.HasSuffix(s, "."), ReasonUnterminated
	})

	req := baseRequest(t, b, def)
	res, err := c.Run(context.Background(), backend, req, def, checker)
	require.NoError(t, err)
	assert.Equal(t, StopComplete, res.Stop)
	assert.Equal(t, 2, res.Calls)
	assert.Equal(t, "David picked up five smooth stones from the stream.", res.Text)

	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	hist := reqs[1].History
	require.Len(t, hist, 2)
	assert.Equal(t, req.Prompt, hist[0].Content)
	assert.Equal(t, completion.Message{Role: completion.RoleAssistant, Content: "David picked up five smooth"}, hist[1])
	assert.Contains(t, reqs[1].Prompt, "Add only new content")
}

func TestRun_ShortChunkIsAppendedThenStops(t *testing.T) {
	c, b, def := newTestController(t)
	backend := mocks.NewScriptedBackend("The end is near", "Amen", "unused continuation text here")

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, StopShortChunk, res.Stop)
	assert.Equal(t, 2, res.Calls)
	assert.Equal(t, "The end is near Amen", res.Text)
}

func TestRun_EmptyChunk(t *testing.T) {
	c, b, def := newTestController(t)
	backend := mocks.NewScriptedBackend("Partial", "  \n ")

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, StopEmptyChunk, res.Stop)
	assert.Equal(t, "Partial", res.Text)
}

func TestRun_FirstCallErrorPropagates(t *testing.T) {
	c, b, def := newTestController(t)
	backend := mocks.NewScriptedBackend().Then(mocks.Reply{Err: assert.AnError})

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, alwaysIncomplete)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, res)
}

func TestRun_ContinuationErrorKeepsPartialText(t *testing.T) {
	c, b, def := newTestController(t)
	backend := mocks.NewScriptedBackend("Partial answer").Then(mocks.Reply{Err: assert.AnError})

	res, err := c.Run(context.Background(), backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, StopError, res.Stop)
	assert.ErrorIs(t, res.Err, assert.AnError)
	assert.Equal(t, "Partial answer", res.Text)
	assert.Equal(t, 2, res.Calls)
}

func TestRun_CancellationReturnsAccumulatedText(t *testing.T) {
	c, b, def := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	backend := completion.BackendFunc(func(ctx context.Context, req completion.Request) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "What we have so far", nil
		}
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})

	res, err := c.Run(ctx, backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, res.Stop)
	assert.Equal(t, "What we have so far", res.Text)
}

func TestRun_CancelledBeforeContinuation(t *testing.T) {
	c, b, def := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	backend := completion.BackendFunc(func(context.Context, completion.Request) (string, error) {
		cancel()
		return "First words", nil
	})

	res, err := c.Run(ctx, backend, baseRequest(t, b, def), def, alwaysIncomplete)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, res.Stop)
	assert.Equal(t, 1, res.Calls)
	assert.Equal(t, "First words", res.Text)
}

func TestRun_JSONModeConcatenates(t *testing.T) {
	cfg := config.DefaultConfig()
	b := prompt.NewBuilder(cfg.Generation, cfg.LLM)
	c := NewController(b, cfg.Generation.Continuation, nil)
	def, _ := schema.Builtin().Lookup(schema.VerseOfDayName)

	req, err := b.Build(prompt.Params{Schema: def, Instruction: "Verse.", StrictJSON: true})
	require.NoError(t, err)

	backend := mocks.NewScriptedBackend(
		`<JSON>{"verse":"Be strong and`,
		`strong and courageous","reference":"Joshua 1:9"}</JSON>`,
	)
	res, err := c.Run(context.Background(), backend, req, def, NewJSONChecker(cfg.Generation))
	require.NoError(t, err)
	assert.Equal(t, StopComplete, res.Stop)
	assert.Equal(t, `<JSON>{"verse":"Be strong and courageous","reference":"Joshua 1:9"}</JSON>`, res.Text)
	assert.Contains(t, backend.Requests()[1].Prompt, "Continue exactly")
}

func TestTrimOverlap(t *testing.T) {
	tests := []struct {
		name, acc, chunk, want string
	}{
		{"no overlap", "The lion", "slept.", "slept."},
		{"word overlap", "The lion roared loudly", "roared loudly and ran.", " and ran."},
		{"whole answer repeated", "Hello there", "Hello there, friend.", ", friend."},
		{"shared letter only", "courage", "ever after.", "ever after."},
		{"mid word suffix ignored", "Be strong", "ong and brave", "ong and brave"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trimOverlap(tt.acc, tt.chunk))
		})
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, fingerprint("Hello   World\n again", 140), fingerprint("hello world again", 140))
	assert.Len(t, []rune(fingerprint(strings.Repeat("ab ", 100), 140)), 140)
}
