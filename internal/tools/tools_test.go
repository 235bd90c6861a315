package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	r := New()
	spec := &Spec{Name: "t1", Handler: func(context.Context, json.RawMessage) (Result, error) { return Result{}, nil }}
	require.NoError(t, r.Register(spec))
	require.Error(t, r.Register(spec))
}

func TestCallValidatesArgsAgainstSchema(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(&Spec{
		Name:       "t1",
		ArgsSchema: json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"}},"required":["x"]}`),
		Handler:    func(context.Context, json.RawMessage) (Result, error) { return Result{Output: "ok"}, nil },
	}))

	res, err := r.Call(context.Background(), "t1", json.RawMessage(`{"x":"not-an-int"}`))
	require.NoError(t, err)
	require.True(t, res.IsError)

	res, err = r.Call(context.Background(), "t1", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, "ok", res.Output)
}

func TestCallUnknownToolReturnsErrorResult(t *testing.T) {
	t.Parallel()

	r := New()
	res, err := r.Call(context.Background(), "missing", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestSecureJoinRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := secureJoin(dir, "../../etc/passwd")
	require.Error(t, err)

	p, err := secureJoin(dir, "sub/file.txt")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(p))
}

func TestWriteThenReadFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := New()
	require.NoError(t, r.Register(NewWriteFileSpec(dir)))
	require.NoError(t, r.Register(NewReadFileSpec(dir)))

	_, err := r.Call(context.Background(), "write_file", json.RawMessage(`{"path":"a.txt","content":"x"}`))
	require.NoError(t, err)

	res, err := r.Call(context.Background(), "read_file", json.RawMessage(`{"path":"a.txt"}`))
	require.NoError(t, err)
	require.Equal(t, "x", res.Output)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}

func TestCreateDirectoryMakesParents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := New()
	require.NoError(t, r.Register(NewCreateDirectorySpec(dir)))

	res, err := r.Call(context.Background(), "create_directory", json.RawMessage(`{"path":"a/b/c"}`))
	require.NoError(t, err)
	require.Equal(t, "ok", res.Output)

	info, err := os.Stat(filepath.Join(dir, "a", "b", "c"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestDeleteFileIsDestructive(t *testing.T) {
	t.Parallel()

	spec := NewDeleteFileSpec(t.TempDir())
	require.True(t, spec.Destructive)
}

func TestExecCommandRejectsDenyListedPattern(t *testing.T) {
	t.Parallel()

	spec := NewExecCommandSpec(&fakeExecutor{}, "/workspace")
	res, err := spec.Handler(context.Background(), json.RawMessage(`{"command":"rm -rf /"}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestWorkflowDecisionRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	spec := NewWorkflowDecisionSpec([]string{"continue", "end"})
	res, err := spec.Handler(context.Background(), json.RawMessage(`{"next_action":"teleport"}`))
	require.NoError(t, err)
	require.True(t, res.IsError)

	res, err = spec.Handler(context.Background(), json.RawMessage(`{"next_action":"continue"}`))
	require.NoError(t, err)
	require.False(t, res.IsError)
}

func TestParseTextualDecision(t *testing.T) {
	t.Parallel()

	action, ok := ParseTextualDecision("looks good <<decision:continue>> thanks")
	require.True(t, ok)
	require.Equal(t, "continue", action)

	_, ok = ParseTextualDecision("no marker here")
	require.False(t, ok)
}

type fakeExecutor struct{}

func (fakeExecutor) Exec(context.Context, []string, string) (int, string, error) {
	return 0, "", nil
}
