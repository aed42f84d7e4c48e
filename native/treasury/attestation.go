package treasury

import (
	"strconv"
	"strings"
)

// AttestationCSVHeader is the column layout of the reserve attestation export.
var AttestationCSVHeader = []string{"tier", "balance", "target_bps", "total_reserves", "taken_at"}

// AttestationCSV renders a point-in-time reserve attestation as CSV, one row
// per tier, suitable for handing to an external auditor.
func (m *Manager) AttestationCSV() string {
	snap := m.Snapshot()
	builder := &strings.Builder{}
	builder.WriteString(strings.Join(AttestationCSVHeader, ","))
	builder.WriteString("\n")
	total := "0"
	if snap.TotalReserves != nil {
		total = snap.TotalReserves.String()
	}
	takenAt := strconv.FormatInt(snap.TakenAt.Unix(), 10)
	for i := TierHot; i < tierCount; i++ {
		balance := "0"
		if snap.Balances[i] != nil {
			balance = snap.Balances[i].String()
		}
		row := []string{
			i.String(),
			balance,
			strconv.FormatUint(snap.Allocation[i], 10),
			total,
			takenAt,
		}
		builder.WriteString(strings.Join(row, ","))
		builder.WriteString("\n")
	}
	return builder.String()
}
