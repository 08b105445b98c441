package vclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareOrderings(t *testing.T) {
	tests := []struct {
		name string
		a, b Clock
		want Ordering
	}{
		{"empty vs empty", Clock{}, Clock{}, Equal},
		{"equal values", Clock{"H": 2, "N": 1}, Clock{"H": 2, "N": 1}, Equal},
		{"missing component reads as zero", Clock{"H": 0}, Clock{}, Equal},
		{"dominates strict", Clock{"H": 3, "N": 1}, Clock{"H": 2, "N": 1}, Dominates},
		{"dominated", Clock{"H": 1}, Clock{"H": 1, "N": 2}, Dominated},
		{"concurrent classic", Clock{"N": 1, "S": 0}, Clock{"N": 0, "S": 1}, Concurrent},
		{"concurrent disjoint codes", Clock{"N": 1}, Clock{"S": 1}, Concurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestCompareSymmetry(t *testing.T) {
	a := Clock{"H": 1, "N": 2}
	b := Clock{"H": 2, "N": 1}
	assert.Equal(t, Concurrent, a.Compare(b))
	assert.Equal(t, Concurrent, b.Compare(a))

	c := Clock{"H": 3, "N": 2}
	assert.Equal(t, Dominates, c.Compare(a))
	assert.Equal(t, Dominated, a.Compare(c))
}

func TestBumpDoesNotMutateReceiver(t *testing.T) {
	a := Clock{"N": 1}
	b := a.Bump("N")
	assert.Equal(t, int64(1), a.Get("N"))
	assert.Equal(t, int64(2), b.Get("N"))

	// bump de componente ausente arranca en 1
	c := Clock{}.Bump("S")
	assert.Equal(t, int64(1), c.Get("S"))
}

func TestMergeIsComponentwiseMax(t *testing.T) {
	a := Clock{"H": 1, "N": 3}
	b := Clock{"H": 2, "S": 1}
	m := a.Merge(b)
	assert.Equal(t, Clock{"H": 2, "N": 3, "S": 1}, m)

	// merge domina (o iguala) a ambos operandos
	assert.True(t, m.DominatesOrEqual(a))
	assert.True(t, m.DominatesOrEqual(b))
}

func TestParseVariants(t *testing.T) {
	want := Clock{"H": 2, "N": 1}

	assert.Equal(t, want, Parse(`{"H":2,"N":1}`))
	assert.Equal(t, want, Parse([]byte(`{"H":2,"N":1}`)))
	assert.Equal(t, want, Parse(map[string]any{"H": float64(2), "N": float64(1)}))
	assert.Equal(t, want, Parse(want))

	assert.Equal(t, Clock{}, Parse(nil))
	assert.Equal(t, Clock{}, Parse(""))
	assert.Equal(t, Clock{}, Parse("not json"))
	assert.Equal(t, Clock{}, Parse(42))
}

func TestStringCanonical(t *testing.T) {
	c := Clock{"S": 1, "H": 2, "N": 0}
	assert.Equal(t, `{"H":2,"N":0,"S":1}`, c.String())
	assert.Equal(t, "{}", Clock{}.String())
	assert.Equal(t, "{}", Clock(nil).String())
}

func TestJSONRoundTrip(t *testing.T) {
	c := Clock{"H": 5, "N": 2}
	b, err := c.MarshalJSON()
	require.NoError(t, err)

	var back Clock
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, Equal, c.Compare(back))
}
