// Package downloader invokes a data source's downloader subprocess,
// resolving its args template against the run's filter values.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/config"
)

// Values are the placeholder substitution values a downloader's args
// template may reference: {data_dir, num_records, year, from_year,
// to_year, agency, report, doc_id}.
type Values struct {
	DataDir    string
	NumRecords *int
	Year       *int
	FromYear   *int
	ToYear     *int
	Agency     string
	Report     string
	DocID      string
}

func (v Values) lookup(key string) (string, bool) {
	switch key {
	case "data_dir":
		return v.DataDir, v.DataDir != ""
	case "num_records":
		return intOrMissing(v.NumRecords)
	case "year":
		return intOrMissing(v.Year)
	case "from_year":
		return intOrMissing(v.FromYear)
	case "to_year":
		return intOrMissing(v.ToYear)
	case "agency":
		return v.Agency, v.Agency != ""
	case "report":
		return v.Report, v.Report != ""
	case "doc_id":
		return v.DocID, v.DocID != ""
	default:
		return "", false
	}
}

func intOrMissing(p *int) (string, bool) {
	if p == nil {
		return "", false
	}
	return strconv.Itoa(*p), true
}

var placeholderPattern = regexp.MustCompile(`^\{(\w+)\}$`)

// ResolveArgs expands a downloader's args template against values. Each
// template entry is either a literal or a whole-token placeholder
// "{key}". When a placeholder resolves to nothing, it is dropped; if the
// immediately preceding resolved token looks like a flag ("--..."), that
// flag is dropped too, so optional CLI flags vanish entirely when unset
// rather than being passed with no value (§6).
func ResolveArgs(template []string, values Values) []string {
	var args []string
	for _, tok := range template {
		match := placeholderPattern.FindStringSubmatch(tok)
		if match == nil {
			args = append(args, tok)
			continue
		}

		resolved, ok := values.lookup(match[1])
		if !ok {
			if len(args) > 0 && strings.HasPrefix(args[len(args)-1], "--") {
				args = args[:len(args)-1]
			}
			continue
		}
		args = append(args, resolved)
	}
	return args
}

// Run invokes the data source's downloader command with its resolved
// args, inheriting stdio. A non-zero exit aborts the run; the downloader
// has no timeout (§5).
func Run(ctx context.Context, ds *config.DataSource, values Values) error {
	if ds.Downloader.Command == "" {
		return fmt.Errorf("downloader.Run: no download command configured for data source %q", ds.Name)
	}

	args := ResolveArgs(ds.Downloader.Args, values)

	slog.Info("download command", "command", ds.Downloader.Command, "args", args)

	cmd := exec.CommandContext(ctx, ds.Downloader.Command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("downloader.Run: %s: %w", ds.Downloader.Command, err)
	}
	return nil
}
