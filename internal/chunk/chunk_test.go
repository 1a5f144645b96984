package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Empty(t *testing.T) {
	assert.Nil(t, Split("", DefaultOptions()))
	assert.Nil(t, Split("   \n\t  ", DefaultOptions()))
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	chunks := Split("One short paragraph.", DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "One short paragraph.", chunks[0])
}

func TestSplit_ChunksBoundedByWindow(t *testing.T) {
	text := strings.Repeat("Compliance requirements for payment processors. ", 200)
	opts := DefaultOptions()

	for _, c := range Split(text, opts) {
		assert.LessOrEqual(t, len([]rune(c)), opts.Window)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The bank must retain records for eight years. Video KYC is permitted. ", 100)
	opts := DefaultOptions()

	first := Split(text, opts)
	second := Split(text, opts)
	assert.Equal(t, first, second)
}

func TestSplit_SnapsAtSentenceBoundary(t *testing.T) {
	// First sentence ends inside the snap region of a 100-rune window, so
	// the first chunk must end exactly at that period.
	sentence := strings.Repeat("x", 60) + "."
	text := sentence + " " + strings.Repeat("y", 200)

	chunks := Split(text, Options{Window: 100, Overlap: 10, SnapBackoff: 50})
	require.NotEmpty(t, chunks)
	assert.Equal(t, sentence, chunks[0])
}

func TestSplit_IgnoresTerminatorOutsideSnapRegion(t *testing.T) {
	// The only period sits far before window-SnapBackoff; the chunk must be
	// cut at the hard boundary instead.
	text := "a." + strings.Repeat("b", 300)

	chunks := Split(text, Options{Window: 100, Overlap: 10, SnapBackoff: 20})
	require.NotEmpty(t, chunks)
	assert.Equal(t, 100, len([]rune(chunks[0])))
}

func TestSplit_OverlapCarriesContent(t *testing.T) {
	text := strings.Repeat("k", 250)
	chunks := Split(text, Options{Window: 100, Overlap: 20, SnapBackoff: 10})
	require.True(t, len(chunks) >= 2)

	// Each successive chunk starts with the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-20:])
		assert.True(t, strings.HasPrefix(chunks[i], tail),
			"chunk %d does not begin with the previous chunk's overlap", i)
	}
}

func TestSplit_ReconstructsContent(t *testing.T) {
	// Concatenating chunks minus the overlap must reproduce the original
	// text for overlap-aligned input with no whitespace trimming at cuts.
	text := strings.Repeat("m", 500)
	opts := Options{Window: 100, Overlap: 20, SnapBackoff: 10}

	chunks := Split(text, opts)
	require.NotEmpty(t, chunks)

	var rebuilt strings.Builder
	rebuilt.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		runes := []rune(c)
		if len(runes) > opts.Overlap {
			rebuilt.WriteString(string(runes[opts.Overlap:]))
		}
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplit_ForcedProgressOnPathologicalInput(t *testing.T) {
	// Terminator-dense input where snapping plus overlap could stall.
	text := strings.Repeat(".", 400)
	chunks := Split(text, Options{Window: 100, Overlap: 90, SnapBackoff: 95})
	assert.NotEmpty(t, chunks)
}
