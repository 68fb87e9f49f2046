package store

import "time"

// Record is the persisted state of one processed source file.
type Record struct {
	ID                int64
	Path              string
	Module            string
	OutputPath        string
	Fingerprint       string
	RunID             string
	LastProcessed     time.Time
	Symbols           []SymbolRecord
	ReferencedModules []string
}

// SymbolNames returns the names of the file's definitions.
func (r *Record) SymbolNames() []string {
	names := make([]string, len(r.Symbols))
	for i, s := range r.Symbols {
		names[i] = s.Name
	}
	return names
}

// SymbolRecord is one persisted definition.
type SymbolRecord struct {
	Name  string
	Value string
	Line  int
}

// Run summarizes one synthesis run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Processed  int
	Skipped    int
	Failed     int
}
