package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/intstr"
)

func TestParseIntOrPercentage(t *testing.T) {
	v, err := ParseIntOrPercentage("5")
	require.NoError(t, err)
	assert.Equal(t, "5", v.String())

	v, err = ParseIntOrPercentage("33%")
	require.NoError(t, err)
	assert.Equal(t, "33%", v.String())

	_, err = ParseIntOrPercentage("NaN")
	assert.Error(t, err)

	_, err = ParseIntOrPercentage("%")
	assert.Error(t, err)
}

func TestFromIntOrString(t *testing.T) {
	v, err := FromIntOrString(intstr.FromInt(100))
	require.NoError(t, err)
	assert.Equal(t, int32(100), v.ScaledValue(20, false))

	v, err = FromIntOrString(intstr.FromString("100"))
	require.NoError(t, err)
	assert.Equal(t, int32(100), v.ScaledValue(20, false))
}

func TestScaledValue(t *testing.T) {
	i, err := ParseIntOrPercentage("5")
	require.NoError(t, err)
	assert.Equal(t, int32(5), i.ScaledValue(20, false))
	assert.Equal(t, int32(5), i.ScaledValue(20, true))

	p, err := ParseIntOrPercentage("33%")
	require.NoError(t, err)
	assert.Equal(t, int32(6), p.ScaledValue(20, false))
	assert.Equal(t, int32(7), p.ScaledValue(20, true))
}
