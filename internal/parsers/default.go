package parsers

// DefaultPlugin is the passthrough parser: the raw output becomes the
// tool's notes and no targets are extracted.
type DefaultPlugin struct{}

// NewDefaultPlugin creates the passthrough parser.
func NewDefaultPlugin() *DefaultPlugin {
	return &DefaultPlugin{}
}

var _ Plugin = (*DefaultPlugin)(nil)

func (p *DefaultPlugin) DefaultBinaries() []string { return nil }

func (p *DefaultPlugin) FileOutputArg() string { return " | tee " }

func (p *DefaultPlugin) FileOutputExt() string { return ".log" }

func (p *DefaultPlugin) ChangeCommand(cmd, outDir, toolName string) string {
	return appendOutputArg(p, cmd, outDir, toolName)
}

func (p *DefaultPlugin) FileOutputPath(cmd string) string {
	return outputPathAfterArg(p, cmd)
}

// DetectCmdline always declines so auto-detection can try real parsers
// first; the ingest layer falls back to this parser explicitly.
func (p *DefaultPlugin) DetectCmdline(cmd string) bool { return false }

func (p *DefaultPlugin) Tags() []string { return nil }

func (p *DefaultPlugin) Parse(pentest string, data []byte, cmdline string) (*Result, error) {
	return &Result{Notes: string(data)}, nil
}
