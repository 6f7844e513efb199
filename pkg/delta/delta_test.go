package delta_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet-io/inklet/pkg/delta"
)

func doc(text string) delta.Delta {
	return delta.New().Insert(text, nil)
}

func text(t *testing.T, d delta.Delta) string {
	t.Helper()
	out := ""
	for _, op := range d.Ops {
		s, ok := op.Insert.(string)
		require.True(t, ok, "document op must be a text insert: %+v", op)
		out += s
	}
	return out
}

func TestApplyInsert(t *testing.T) {
	got, err := delta.Apply(doc("hello\n"), delta.New().Retain(5, nil).Insert(" world", nil))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", text(t, got))
}

func TestApplyDelete(t *testing.T) {
	got, err := delta.Apply(doc("hello world\n"), delta.New().Retain(5, nil).Delete(6))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", text(t, got))
}

func TestApplyInsertIntoEmptyDocument(t *testing.T) {
	got, err := delta.Apply(delta.New(), delta.New().Insert("hi\n", nil))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", text(t, got))
}

func TestApplyFormatting(t *testing.T) {
	bold := delta.AttributeMap{"bold": true}
	got, err := delta.Apply(doc("hello\n"), delta.New().Retain(5, bold))
	require.NoError(t, err)
	require.Len(t, got.Ops, 2)
	assert.Equal(t, bold, got.Ops[0].Attributes)
	assert.Equal(t, "hello", got.Ops[0].Insert)
	assert.Equal(t, "\n", got.Ops[1].Insert)
}

func TestApplyMalformedPastEnd(t *testing.T) {
	_, err := delta.Apply(doc("hi\n"), delta.New().Retain(10, nil).Delete(1))
	var malformed *delta.MalformedDeltaError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Error(), "malformed delta")
}

func TestApplyMalformedDeleteBeyondContent(t *testing.T) {
	_, err := delta.Apply(doc("hi\n"), delta.New().Delete(4))
	var malformed *delta.MalformedDeltaError
	require.True(t, errors.As(err, &malformed))
}

func TestApplyRejectsNonInsertDocument(t *testing.T) {
	notADoc := delta.New().Retain(3, nil)
	_, err := delta.Apply(notADoc, delta.New().Insert("x", nil))
	var malformed *delta.MalformedDeltaError
	require.True(t, errors.As(err, &malformed))
}

// Sequential application must be associative: applying d1 then d2 is the
// same as applying their composition in a single call.
func TestComposeMatchesSequentialApply(t *testing.T) {
	cases := []struct {
		name   string
		d1, d2 delta.Delta
	}{
		{
			name: "insert then delete overlapping",
			d1:   delta.New().Retain(3, nil).Insert("xyz", nil),
			d2:   delta.New().Retain(2, nil).Delete(5),
		},
		{
			name: "sentinel space insert then delete",
			d1:   delta.New().Retain(6, nil).Insert(" ", nil),
			d2:   delta.New().Retain(6, nil).Delete(1),
		},
		{
			name: "two inserts at different offsets",
			d1:   delta.New().Insert("ab", nil),
			d2:   delta.New().Retain(4, nil).Insert("cd", nil),
		},
		{
			name: "formatting then delete",
			d1:   delta.New().Retain(4, delta.AttributeMap{"bold": true}),
			d2:   delta.New().Retain(1, nil).Delete(2),
		},
		{
			name: "delete then insert at same offset",
			d1:   delta.New().Delete(2),
			d2:   delta.New().Insert("Z", nil),
		},
	}

	base := doc("hello\n")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step1, err := delta.Apply(base, tc.d1)
			require.NoError(t, err)
			sequential, err := delta.Apply(step1, tc.d2)
			require.NoError(t, err)

			composed, err := delta.Apply(base, delta.Compose(tc.d1, tc.d2))
			require.NoError(t, err)

			assert.Equal(t, text(t, sequential), text(t, composed))
		})
	}
}

func TestLength(t *testing.T) {
	assert.Equal(t, 0, delta.Length(delta.New()))
	assert.Equal(t, 1, delta.Length(doc("\n")), "fresh editor document is a single newline")
	assert.Equal(t, 6, delta.Length(doc("hello\n")))

	embedded := delta.New().
		Insert("pic:", nil).
		Insert(map[string]any{"image": "https://example.com/a.png"}, nil).
		Insert("\n", nil)
	assert.Equal(t, 6, delta.Length(embedded), "embeds count as one unit")
}

func TestBuilderMergesAdjacentOps(t *testing.T) {
	d := delta.New().Insert("ab", nil).Insert("cd", nil).Delete(1).Delete(2)
	require.Len(t, d.Ops, 2)
	assert.Equal(t, "abcd", d.Ops[0].Insert)
	assert.Equal(t, 3, d.Ops[1].Delete)
}

func TestBuilderDropsNoOps(t *testing.T) {
	d := delta.New().Insert("", nil).Retain(0, nil).Delete(0)
	assert.Empty(t, d.Ops)
}

func TestMarshalRoundTrip(t *testing.T) {
	d := delta.New().Retain(3, nil).Insert("hi", delta.AttributeMap{"bold": true}).Delete(1)
	data, err := delta.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ops":[{"retain":3},{"insert":"hi","attributes":{"bold":true}},{"delete":1}]}`, string(data))

	back, err := delta.Unmarshal(data)
	require.NoError(t, err)

	// The round-tripped delta must transform content identically.
	base := doc("abcd\n")
	want, err := delta.Apply(base, d)
	require.NoError(t, err)
	got, err := delta.Apply(base, back)
	require.NoError(t, err)
	assert.Equal(t, text(t, want), text(t, got))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := delta.Unmarshal([]byte("not json"))
	require.Error(t, err)
}
