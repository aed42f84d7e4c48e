package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Pragmas applied to every on-disk journal. WAL keeps the journal readable
// while the engine appends; synchronous FULL because attestation and
// redemption records double as audit evidence.
const journalPragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on"

// FileDSN converts a filesystem path into the on-disk SQLite DSN mintd opens
// its journal with. Relative paths are anchored to the working directory so a
// daemon restarted from a different cwd does not fork the journal.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return "file:" + abs + "?" + journalPragmas, nil
}
