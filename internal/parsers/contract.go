// Package parsers holds the output-parser plugin catalog. A parser turns
// one tool's raw output file into notes, tags and discovered targets that
// re-enter the entity layer.
package parsers

import (
	"path/filepath"
	"strings"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// Target is one entity discovered in a result file. Exactly one field is
// set; the ingest layer routes it to the matching entity operation.
type Target struct {
	Host     *models.Host
	Port     *models.Port
	Computer *models.Computer
	User     *models.User
	Share    *models.Share
}

// Result is the outcome of parsing one result file.
type Result struct {
	Notes   string
	Tags    []string
	Lvl     string // level of the discovered targets: ip, port ...
	Targets []Target
}

// Plugin is the contract every output parser implements.
type Plugin interface {
	// DefaultBinaries lists the binary names this parser's tool runs as.
	DefaultBinaries() []string

	// FileOutputArg is the CLI fragment that injects the output path.
	FileOutputArg() string

	// FileOutputExt is the extension of the produced result file.
	FileOutputExt() string

	// ChangeCommand rewrites a command line so its output lands in
	// outDir under toolName.
	ChangeCommand(cmd, outDir, toolName string) string

	// FileOutputPath extracts the output path from a rewritten command
	// line, or "" when the command carries none.
	FileOutputPath(cmd string) string

	// DetectCmdline reports whether this parser recognizes the command.
	DetectCmdline(cmd string) bool

	// Tags lists the tags this parser may attach to results.
	Tags() []string

	// Parse reads a result file and extracts notes, tags and targets.
	Parse(pentest string, data []byte, cmdline string) (*Result, error)
}

// appendOutputArg is the default ChangeCommand behavior: append the output
// argument unless the command already carries one.
func appendOutputArg(p Plugin, cmd, outDir, toolName string) string {
	if strings.Contains(cmd, p.FileOutputArg()) {
		return cmd
	}
	return cmd + p.FileOutputArg() + filepath.Join(outDir, toolName) + p.FileOutputExt()
}

// outputPathAfterArg is the default FileOutputPath behavior: the first
// token after the output argument.
func outputPathAfterArg(p Plugin, cmd string) string {
	arg := p.FileOutputArg()
	i := strings.Index(cmd, arg)
	if i < 0 {
		return ""
	}
	rest := strings.TrimLeft(cmd[i+len(arg):], " ")
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// binaryMatches is the default DetectCmdline behavior: the first token's
// basename is one of the parser's default binaries.
func binaryMatches(p Plugin, cmd string) bool {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return false
	}
	bin := filepath.Base(fields[0])
	for _, b := range p.DefaultBinaries() {
		if bin == b {
			return true
		}
	}
	return false
}
