package compiler

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ansi escape helpers for the generated-program dump. Color is used only
// when stderr is an interactive terminal and NO_COLOR is unset, the same
// policy the CLI applies to its own output.
const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[2m"
	ansiBold   = "\x1b[1m"
	ansiYellow = "\x1b[33m"
	ansiGreen  = "\x1b[32m"
)

func useColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

var starlarkKeywords = map[string]bool{
	"def": true, "return": true, "if": true, "elif": true, "else": true,
	"for": true, "in": true, "not": true, "and": true, "or": true,
	"lambda": true, "load": true, "pass": true, "break": true,
	"continue": true, "None": true, "True": true, "False": true,
}

// renderProgram returns a numbered listing of the synthesized program
// around the given offset, for "position unknown" reports. The window is
// wide enough to show the whole failing region for typical fragments.
func renderProgram(text string, around int) string {
	if around < 0 {
		around = 0
	}
	if around > len(text) {
		around = len(text)
	}
	lines := strings.Split(text, "\n")
	cur := strings.Count(text[:around], "\n")

	const window = 8
	start := cur - window
	if start < 0 {
		start = 0
	}
	end := cur + window
	if end > len(lines) {
		end = len(lines)
	}

	color := useColor()
	var sb strings.Builder
	for i := start; i < end; i++ {
		mark := "  "
		if i == cur {
			mark = "> "
		}
		num := fmt.Sprintf("%4d | ", i+1)
		if color {
			sb.WriteString(ansiDim + num + ansiReset + mark + highlightLine(lines[i]))
		} else {
			sb.WriteString(num + mark + lines[i])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// highlightLine applies a rough keyword/string coloring; it doesn't need
// to be a real lexer, the dump is a debugging aid.
func highlightLine(line string) string {
	var sb strings.Builder
	i := 0
	for i < len(line) {
		ch := line[i]
		switch {
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(line) && line[j] != ch {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(line) {
				j++
			}
			sb.WriteString(ansiGreen + line[i:j] + ansiReset)
			i = j
		case isWordByte(ch):
			j := i
			for j < len(line) && isWordByte(line[j]) {
				j++
			}
			word := line[i:j]
			if starlarkKeywords[word] {
				sb.WriteString(ansiBold + ansiYellow + word + ansiReset)
			} else {
				sb.WriteString(word)
			}
			i = j
		default:
			sb.WriteByte(ch)
			i++
		}
	}
	return sb.String()
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
