// File: internal/analysis/extension/danger/classify.go
// Package danger classifies the calls of an enriched dependence graph
// against an extension's sink catalog and records the dangerous ones.
package danger

import (
	"strings"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/sinks"
)

const (
	xhrSink        = "XMLHttpRequest.open"
	xhrSinkCreated = "XMLHttpRequest().open"
)

// ClassifySink matches the rendered callee text against every API of cats.
// An API matches when the text is the API itself or ends with "."+API, so
// that "chrome.tabs.executeScript" matches "tabs.executeScript" while
// "myeval" does not match "eval". The returned name is normalized with
// SinkName.
func ClassifySink(text string, cats sinks.Categories) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, cat := range cats {
		for _, api := range cat.APIs {
			if api == "" || !strings.Contains(text, api) {
				continue
			}
			if text == api || strings.HasSuffix(text, "."+api) {
				return SinkName(api), true
			}
		}
	}
	return "", false
}

// MatchAsyncXHR matches the rendered text of a whole call against the XHR
// sinks of cats. It covers "new XMLHttpRequest().open(...)" shapes whose
// callee does not end in a clean sink name: the text must contain both
// "XMLHttpRequest" and ".open(".
func MatchAsyncXHR(text string, cats sinks.Categories) (string, bool) {
	if !strings.Contains(text, "XMLHttpRequest") || !strings.Contains(text, ".open(") {
		return "", false
	}
	for _, cat := range cats {
		for _, api := range cat.APIs {
			if api == xhrSink || api == xhrSinkCreated {
				return SinkName(api), true
			}
		}
	}
	return "", false
}

// SinkName drops library prefixes so that "$.ajax" and "jQuery.ajax" are
// both reported as "ajax", and names both XHR forms "XMLHttpRequest.open".
func SinkName(api string) string {
	if api == xhrSinkCreated {
		return xhrSink
	}
	return strings.ReplaceAll(strings.ReplaceAll(api, "$.", ""), "jQuery.", "")
}
