package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tactiledata/gesture.report/internal/touch/pipeline"
)

func TestParseCarousels(t *testing.T) {
	specs, err := parseCarousels("1:3:260, 4:5:320")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, pipeline.CarouselParams{Count: 3, CardOffsetPx: 260}, specs[1])
	assert.Equal(t, pipeline.CarouselParams{Count: 5, CardOffsetPx: 320}, specs[4])
}

func TestParseCarouselsEmpty(t *testing.T) {
	specs, err := parseCarousels("")
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestParseCarouselsRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"1:3", "one:3:260", "1:three:260", "1:3:wide", "-1:3:260"} {
		_, err := parseCarousels(spec)
		assert.Error(t, err, "spec %q should be rejected", spec)
	}
}

func TestParseReveals(t *testing.T) {
	specs, err := parseReveals("2:140,9:96.5")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, pipeline.RevealParams{ActionWidthPx: 140}, specs[2])
	assert.Equal(t, pipeline.RevealParams{ActionWidthPx: 96.5}, specs[9])
}

func TestParseRevealsRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"2", "2:140:extra", "x:140", "2:wide"} {
		_, err := parseReveals(spec)
		assert.Error(t, err, "spec %q should be rejected", spec)
	}
}
