package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperator(t *testing.T) {
	cases := map[string]Operator{
		">":  OpGreater,
		"<":  OpLess,
		">=": OpGreaterEq,
		"<=": OpLessEq,
		"==": OpEqual,
	}

	for symbol, want := range cases {
		op, err := ParseOperator(symbol)
		require.NoError(t, err, symbol)
		assert.Equal(t, want, op)
		assert.Equal(t, symbol, op.String())
	}
}

func TestParseOperatorRejectsUnknown(t *testing.T) {
	for _, symbol := range []string{"", "=", "!=", "=>", "gt", ">>"} {
		_, err := ParseOperator(symbol)
		assert.Error(t, err, symbol)
	}
}

func TestOperatorEvaluate(t *testing.T) {
	assert.True(t, OpGreater.Evaluate(2, 1))
	assert.False(t, OpGreater.Evaluate(1, 1))

	assert.True(t, OpLess.Evaluate(1, 2))
	assert.False(t, OpLess.Evaluate(2, 2))

	assert.True(t, OpGreaterEq.Evaluate(2, 2))
	assert.False(t, OpGreaterEq.Evaluate(1, 2))

	assert.True(t, OpLessEq.Evaluate(2, 2))
	assert.False(t, OpLessEq.Evaluate(3, 2))

	assert.True(t, OpEqual.Evaluate(2, 2))
	assert.False(t, OpEqual.Evaluate(2, 2.0001))
}
