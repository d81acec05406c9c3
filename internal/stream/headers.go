package stream

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
)

func randomUserAgent() string {
	// Chrome major versions roughly within the last six months
	const minMajor = 132
	const maxMajor = 138

	major := rand.IntN(maxMajor-minMajor+1) + minMajor
	return fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
		major,
	)
}

// headerBlock renders headers as the CRLF-joined block the AVFormat "headers"
// option expects, filling in browser-like defaults for anything missing.
func headerBlock(base map[string]string) string {
	h := map[string]string{}
	if base != nil {
		h = maps.Clone(base)
	}
	if _, ok := h["User-Agent"]; !ok {
		h["User-Agent"] = randomUserAgent()
	}
	if _, ok := h["Accept"]; !ok {
		h["Accept"] = "*/*"
	}
	if _, ok := h["Accept-Language"]; !ok {
		h["Accept-Language"] = "en-US,en;q=0.9"
	}
	if _, ok := h["Connection"]; !ok {
		h["Connection"] = "keep-alive"
	}

	keys := slices.Sorted(maps.Keys(h))
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, strings.TrimSpace(h[k]))
	}
	return b.String()
}
