package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates an error message with suggestions and help commands
//
// Example output:
//
//	✗ RESOURCE NOT FOUND: Cannot find resource 'Ordr'.
//
//	   Did you mean: Order?
//
//	   → See all resources: datasource resources
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	header := newColor(opts.NoColor, color.FgRed, color.Bold)
	symbol := "✗"
	if opts.Level == ErrorLevelWarning {
		header = newColor(opts.NoColor, color.FgYellow, color.Bold)
		symbol = "!"
	}

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		newColor(opts.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := newColor(opts.NoColor, color.FgCyan)
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// ResourceNotFoundError formats an unknown resource error, suggesting the
// closest declared names
func ResourceNotFoundError(name string, declared []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "resource not found",
		Problem:     fmt.Sprintf("Cannot find resource '%s'.", name),
		Suggestions: Suggest(name, declared, 3),
		HelpCommands: []string{
			"See all resources: datasource resources",
		},
		NoColor: noColor,
	})
}

// ConfigError formats a configuration error
func ConfigError(err error, noColor bool) string {
	return FormatError(ErrorOptions{
		Context: "configuration error",
		Problem: err.Error(),
		HelpCommands: []string{
			"Use another file: datasource --config path/to/datasource.yml",
			"Get help: datasource --help",
		},
		NoColor: noColor,
	})
}

// Suggest returns up to max candidates within edit distance 3 of target,
// closest first. Matching ignores case.
func Suggest(target string, candidates []string, max int) []string {
	type match struct {
		value    string
		distance int
	}

	var matches []match
	for _, candidate := range candidates {
		d := Distance(strings.ToLower(target), strings.ToLower(candidate))
		if d <= 3 {
			matches = append(matches, match{candidate, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].value < matches[j].value
	})

	if len(matches) > max {
		matches = matches[:max]
	}
	result := make([]string, len(matches))
	for i, m := range matches {
		result[i] = m.value
	}
	return result
}

// Distance returns the Levenshtein distance between a and b
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
