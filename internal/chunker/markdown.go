package chunker

import (
	"regexp"
	"strings"
)

// headerPattern matches ATX headers, levels 1-6.
var headerPattern = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t]*$`)

// closingHashes matches an optional closing sequence such as "## Title ##".
var closingHashes = regexp.MustCompile(`[ \t]+#+$`)

// section is a run of body text under one header chain.
type section struct {
	headers []string
	body    string
}

// splitSections splits Markdown text on headers. Each section carries the
// chain of ancestor headers active at that point; a header clears every
// deeper level. Header lines are not part of any body, blank lines become
// paragraph breaks, and sections with an empty body are dropped. Lines
// inside fenced code blocks are never treated as headers.
func splitSections(text string) []section {
	var (
		stack    [6]string
		sections []section
		paras    []string
		lines    []string
		inFence  bool
		fence    string
	)

	chain := func() []string {
		var out []string
		for _, h := range stack {
			if h != "" {
				out = append(out, h)
			}
		}
		return out
	}

	flushPara := func() {
		if len(lines) > 0 {
			paras = append(paras, strings.Join(lines, "\n"))
			lines = lines[:0]
		}
	}

	flushSection := func() {
		flushPara()
		if len(paras) > 0 {
			sections = append(sections, section{
				headers: chain(),
				body:    strings.Join(paras, "\n\n"),
			})
		}
		paras = nil
	}

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(raw)

		if marker := fenceMarker(trimmed); marker != "" {
			switch {
			case !inFence:
				inFence, fence = true, marker
			case strings.HasPrefix(trimmed, fence):
				inFence = false
			}
			lines = append(lines, trimmed)
			continue
		}

		if inFence {
			lines = append(lines, strings.TrimRight(raw, " \t"))
			continue
		}

		if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
			flushSection()
			level := len(m[1])
			stack[level-1] = closingHashes.ReplaceAllString(m[2], "")
			for i := level; i < len(stack); i++ {
				stack[i] = ""
			}
			continue
		}

		if trimmed == "" {
			flushPara()
			continue
		}
		lines = append(lines, trimmed)
	}
	flushSection()

	return sections
}

// fenceMarker returns the fence delimiter a line opens or closes, if any.
func fenceMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "```"):
		return "```"
	case strings.HasPrefix(line, "~~~"):
		return "~~~"
	}
	return ""
}
