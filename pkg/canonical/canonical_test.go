package canonical

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/gowebpki/jcs"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedKeysNoWhitespace(t *testing.T) {
	b, err := Marshal(map[string]interface{}{
		"zeta":  1,
		"alpha": map[string]interface{}{"b": 2, "a": 1},
		"mid":   []interface{}{"x", "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":1,"b":2},"mid":["x","y"],"zeta":1}`, string(b))
}

func TestStructTagsRespected(t *testing.T) {
	type inner struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	b, err := Marshal(inner{B: 7, A: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":7}`, string(b))
}

func TestNFCNormalization(t *testing.T) {
	// U+0065 U+0301 (e + combining acute) composes to U+00E9.
	decomposed := "é"
	composed := "é"

	b1, err := Marshal(map[string]interface{}{"k": decomposed})
	require.NoError(t, err)
	b2, err := Marshal(map[string]interface{}{"k": composed})
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	// Non-ASCII survives literally, never as \u escapes.
	assert.Contains(t, string(b1), composed)
}

func TestDuplicateKeysAfterNFC(t *testing.T) {
	_, err := Marshal(map[string]interface{}{
		"é": 1,
		"é":  2,
	})
	require.ErrorIs(t, err, ErrEncoding)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestNoHTMLEscaping(t *testing.T) {
	b, err := Marshal(map[string]interface{}{"html": `<a href="x">&</a>`})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<a href=\"x\">&</a>"}`, string(b))
}

func TestLineSeparatorsRetainedLiterally(t *testing.T) {
	// U+2028 and U+2029 stay raw; the standard encoder would escape them.
	b, err := Marshal(map[string]interface{}{"k": "a b c"})
	require.NoError(t, err)
	assert.Equal(t, "{\"k\":\"a b c\"}", string(b))
}

func TestControlCharacterEscapes(t *testing.T) {
	b, err := Marshal(map[string]interface{}{"k": "a\"b\\c\nd\te\u0001f"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"a\"b\\c\nd\te\u0001f"}`, string(b))

	// A literal backslash-u sequence is not confused with an escape.
	b, err = Marshal(map[string]interface{}{"k": `x\u2028`})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"x\\u2028"}`, string(b))
}

func TestRejectedLeaves(t *testing.T) {
	cases := map[string]interface{}{
		"nan":      math.NaN(),
		"plus_inf": math.Inf(1),
		"neg_inf":  math.Inf(-1),
		"binary":   []byte{1, 2, 3},
		"channel":  make(chan int),
		"nested":   map[string]interface{}{"deep": []interface{}{math.NaN()}},
	}
	for name, v := range cases {
		_, err := Marshal(v)
		assert.ErrorIs(t, err, ErrEncoding, name)
	}
}

func TestNumbersKeepShortestForm(t *testing.T) {
	b, err := Marshal(map[string]interface{}{"a": 1.5, "b": 10, "c": 0.1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.5,"b":10,"c":0.1}`, string(b))
}

func TestHash(t *testing.T) {
	h1, err := Hash(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Regexp(t, `^[0-9a-f]{64}$`, h1)

	h3, err := Hash(map[string]interface{}{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

// genValue builds arbitrary JSON-safe values: ASCII strings, ints, bools,
// and one level of nesting. ASCII keeps the RFC 8785 oracle applicable
// (NFC is the identity there).
func genValue() gopter.Gen {
	leaf := gen.OneGenOf(
		gen.AlphaString(),
		gen.Int64(),
		gen.Bool(),
	)
	return gen.OneGenOf(
		leaf,
		gen.MapOf(gen.AlphaString(), leaf),
		gen.SliceOf(leaf),
	)
}

func TestCanonicalFormMatchesJCS(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("Marshal agrees with RFC 8785 for ASCII input", prop.ForAll(
		func(m map[string]interface{}) bool {
			ours, err := Marshal(m)
			if err != nil {
				return false
			}
			plain, err := json.Marshal(m)
			if err != nil {
				return false
			}
			oracle, err := jcs.Transform(plain)
			if err != nil {
				return false
			}
			return string(ours) == string(oracle)
		},
		gen.MapOf(gen.AlphaString(), genValue()),
	))

	properties.Property("Marshal is deterministic", prop.ForAll(
		func(m map[string]interface{}) bool {
			a, err1 := Marshal(m)
			b, err2 := Marshal(m)
			return err1 == nil && err2 == nil && string(a) == string(b)
		},
		gen.MapOf(gen.AlphaString(), genValue()),
	))

	properties.TestingRun(t)
}
