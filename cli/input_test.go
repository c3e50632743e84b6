package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"2", "3", "4"}, splitList([]string{"2,3", "4"}))
	assert.Equal(t, []string{"2", "3", "4"}, splitList([]string{"2 3 4"}))
	assert.Equal(t, []string{"2.5", "bf16"}, splitList([]string{" 2.5, ", "bf16"}))
	assert.Empty(t, splitList(nil))
}

func TestParseDevices(t *testing.T) {
	devices, err := parseDevices("0,1, 3")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, devices)

	_, err = parseDevices("")
	assert.ErrorContains(t, err, "empty")

	_, err = parseDevices("0,gpu1")
	assert.ErrorContains(t, err, "invalid device")
}

func TestSplitPassthrough(t *testing.T) {
	p, err := splitPassthrough([]string{
		"run", "-m", "llama", "-b", "2,3",
		"--quant-args", "--", "-d", "0,1", "-cb",
		"--measure-args", "--", "-r", "50",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "-m", "llama", "-b", "2,3"}, p.Cleaned)
	assert.Equal(t, []string{"-d", "0,1", "-cb"}, p.QuantArgs)
	assert.Equal(t, []string{"-r", "50"}, p.MeasureArgs)
}

func TestSplitPassthroughBlocksInEitherOrder(t *testing.T) {
	p, err := splitPassthrough([]string{
		"run", "--measure-args", "--", "-d", "2", "--quant-args", "--", "-cb",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run"}, p.Cleaned)
	assert.Equal(t, []string{"-cb"}, p.QuantArgs)
	assert.Equal(t, []string{"-d", "2"}, p.MeasureArgs)
}

func TestSplitPassthroughErrors(t *testing.T) {
	_, err := splitPassthrough([]string{"run", "--quant-args", "-d", "0"})
	assert.ErrorContains(t, err, "expected '--'")

	_, err = splitPassthrough([]string{
		"run", "--quant-args", "--", "-a", "--quant-args", "--", "-b",
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestApplyMeasureArgs(t *testing.T) {
	rows, devices, err := applyMeasureArgs([]string{"-r", "50", "-d", "1,2"}, 100, []int{0})
	require.NoError(t, err)
	assert.Equal(t, 50, rows)
	assert.Equal(t, []int{1, 2}, devices)

	// No overrides: inputs pass through.
	rows, devices, err = applyMeasureArgs(nil, 100, []int{0})
	require.NoError(t, err)
	assert.Equal(t, 100, rows)
	assert.Equal(t, []int{0}, devices)

	_, _, err = applyMeasureArgs([]string{"--gpu", "1"}, 100, []int{0})
	assert.ErrorContains(t, err, "unsupported")

	_, _, err = applyMeasureArgs([]string{"-r"}, 100, []int{0})
	assert.ErrorContains(t, err, "missing value")
}
