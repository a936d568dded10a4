package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFencedBlock(t *testing.T) {
	raw := "Here you go:\n```json\n{\"a\": 1}\n```\nThanks"
	candidate, ok := Extract(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, candidate)
}

func TestExtractBraceSpanFallback(t *testing.T) {
	raw := "sure, the answer is {\"a\": 1, \"b\": [1,2,3]} hope that helps"
	candidate, ok := Extract(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":[1,2,3]}`, candidate)
}

func TestExtractArraySpan(t *testing.T) {
	raw := "[{\"id\":\"sq-001\",\"question\":\"what\"}]"
	candidate, ok := Extract(raw)
	require.True(t, ok)
	assert.JSONEq(t, raw, candidate)
}

func TestExtractTrailingCommaRepair(t *testing.T) {
	raw := "{\"a\": 1, \"b\": 2,}"
	candidate, ok := Extract(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":2}`, candidate)
}

func TestExtractUnparseableReturnsNotOK(t *testing.T) {
	_, ok := Extract("not json at all, sorry")
	assert.False(t, ok)
}

func TestParseGetField(t *testing.T) {
	r := Parse("```json\n{\"has_gaps\": true, \"confidence\": 0.6}\n```")
	require.True(t, r.Found())
	assert.True(t, r.Get("has_gaps").Bool())
	assert.Equal(t, 0.6, r.Get("confidence").Float())
}

func TestParseNotFoundIsSafeToQuery(t *testing.T) {
	r := Parse("nothing useful here")
	assert.False(t, r.Found())
	assert.False(t, r.Get("has_gaps").Exists())
}

func TestResultRawReturnsConsumedCandidate(t *testing.T) {
	r := Parse("```json\n{\"a\": 1}\n```")
	require.True(t, r.Found())
	assert.JSONEq(t, `{"a":1}`, r.Raw())
}

func TestResultRawEmptyWhenNotFound(t *testing.T) {
	r := Parse("nothing useful here")
	assert.Equal(t, "", r.Raw())
}

func TestSetFieldPatchesWithoutTouchingOtherFields(t *testing.T) {
	patched, err := SetField(`{"title":"t","sources_used":["stale"]}`, "sources_used", []string{"a", "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"t","sources_used":["a","b"]}`, patched)
}
