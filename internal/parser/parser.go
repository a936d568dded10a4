// Package parser implements the lenient structured-output extractor every
// agent uses to turn an LLM's free-form text response into a typed value
// without ever raising an error back through the call chain.
package parser

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// trailingCommaRe matches a comma directly followed by optional whitespace
// and a closing brace or bracket — the one repair this parser attempts.
var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// Extract pulls the most likely JSON payload out of raw LLM text and
// returns it alongside whether a plausible candidate was found at all.
// It never returns an error: callers combine Extract with gjson lookups
// and fall back to a typed default when ok is false or fields are absent.
func Extract(raw string) (candidate string, ok bool) {
	if m := fencedBlockRe.FindStringSubmatch(raw); m != nil {
		candidate = strings.TrimSpace(m[1])
	} else {
		candidate = strings.TrimSpace(extractBraceSpan(raw))
	}
	if candidate == "" {
		return "", false
	}

	if gjson.Valid(candidate) {
		return candidate, true
	}

	repaired := trailingCommaRe.ReplaceAllString(candidate, "$1")
	if gjson.Valid(repaired) {
		return repaired, true
	}

	return candidate, false
}

// extractBraceSpan returns the substring from the first '{' or '[' to the
// matching last '}' or ']', whichever pair encloses more of the text.
func extractBraceSpan(raw string) string {
	objStart, objEnd := span(raw, '{', '}')
	arrStart, arrEnd := span(raw, '[', ']')

	objLen := objEnd - objStart
	arrLen := arrEnd - arrStart

	if objStart >= 0 && objLen >= arrLen {
		return raw[objStart : objEnd+1]
	}
	if arrStart >= 0 {
		return raw[arrStart : arrEnd+1]
	}
	return raw
}

func span(raw string, open, close byte) (start, end int) {
	start = strings.IndexByte(raw, open)
	if start < 0 {
		return -1, -1
	}
	end = strings.LastIndexByte(raw, close)
	if end < start {
		return -1, -1
	}
	return start, end
}

// Result wraps a gjson-parsed candidate for convenient field access by
// agent-specific decoders, which read fields with Get/Array/String etc.
// and fall back to their typed default whenever Found() is false.
type Result struct {
	ok   bool
	root gjson.Result
}

// Parse extracts and parses raw into a Result. Found() on the returned
// Result tells the caller whether any usable JSON was recovered at all;
// individual field lookups are still safe (zero-valued) even if not.
func Parse(raw string) Result {
	candidate, ok := Extract(raw)
	if !ok {
		return Result{ok: false}
	}
	return Result{ok: true, root: gjson.Parse(candidate)}
}

// Found reports whether Parse recovered valid JSON at all.
func (r Result) Found() bool { return r.ok }

// Get returns the field at path, or the zero gjson.Result if not found.
func (r Result) Get(path string) gjson.Result {
	if !r.ok {
		return gjson.Result{}
	}
	return r.root.Get(path)
}

// Array returns the root value's array elements (empty if not found or the
// root isn't an array).
func (r Result) Array() []gjson.Result {
	if !r.ok {
		return nil
	}
	return r.root.Array()
}

// Raw returns the raw candidate JSON text, or "" if none was found.
func (r Result) Raw() string {
	if !r.ok {
		return ""
	}
	return r.root.Raw
}

// SetField is a thin wrapper over sjson used by the writer's repair pass to
// patch a single field (e.g. forcing sources_used) without re-serializing
// the whole report through encoding/json.
func SetField(json, path string, value any) (string, error) {
	return sjson.Set(json, path, value)
}
