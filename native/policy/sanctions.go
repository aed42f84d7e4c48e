package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// SanctionsConfig describes the operator-maintained deny list.
type SanctionsConfig struct {
	DenyList []string `toml:"DenyList"`
}

// Normalise trims whitespace, removes duplicates, and applies canonical casing.
func (cfg SanctionsConfig) Normalise() SanctionsConfig {
	if len(cfg.DenyList) == 0 {
		return SanctionsConfig{}
	}
	trimmed := make([]string, 0, len(cfg.DenyList))
	seen := make(map[string]struct{}, len(cfg.DenyList))
	for _, raw := range cfg.DenyList {
		normalized := strings.ToLower(strings.TrimSpace(raw))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		trimmed = append(trimmed, normalized)
	}
	sort.Strings(trimmed)
	return SanctionsConfig{DenyList: trimmed}
}

// Checker builds a sanctions checker honouring the configured deny list.
func (cfg SanctionsConfig) Checker() (SanctionsChecker, error) {
	normalized := cfg.Normalise()
	if len(normalized.DenyList) == 0 {
		return DefaultSanctionsChecker, nil
	}
	blocked := make(map[ethcommon.Address]struct{}, len(normalized.DenyList))
	for _, entry := range normalized.DenyList {
		if !ethcommon.IsHexAddress(entry) {
			return nil, fmt.Errorf("policy: deny list entry %q is not a valid address", entry)
		}
		blocked[ethcommon.HexToAddress(entry)] = struct{}{}
	}
	return func(addr ethcommon.Address) bool {
		_, denied := blocked[addr]
		return !denied
	}, nil
}

// SanctionsChecker reports whether an address may receive minted funds.
type SanctionsChecker func(ethcommon.Address) bool

// DefaultSanctionsChecker allows all addresses, a safe default when operators
// do not maintain a deny list.
func DefaultSanctionsChecker(ethcommon.Address) bool { return true }

// Storage abstracts the subset of the state store the sanctions log needs.
type Storage interface {
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// SanctionsHit is a persisted record of a denied mint recipient.
type SanctionsHit struct {
	Address   ethcommon.Address
	Operation string
	Timestamp int64
}

type sanctionsAuditEntry struct {
	Address   ethcommon.Address
	Operation string
	Timestamp uint64
}

// SanctionsLog records deny-list hits for later audit.
type SanctionsLog struct {
	store Storage
	clock func() time.Time
}

// NewSanctionsLog constructs a sanctions log backed by the provided storage adapter.
func NewSanctionsLog(store Storage) *SanctionsLog {
	return &SanctionsLog{store: store, clock: time.Now}
}

// SetClock overrides the time source, primarily for deterministic tests.
func (sl *SanctionsLog) SetClock(clock func() time.Time) {
	if sl == nil || clock == nil {
		return
	}
	sl.clock = clock
}

// RecordHit appends a deny-list hit for the provided address.
func (sl *SanctionsLog) RecordHit(addr ethcommon.Address, operation string) error {
	if sl == nil {
		return fmt.Errorf("policy: sanctions log not initialised")
	}
	if sl.store == nil {
		return fmt.Errorf("policy: sanctions log storage unavailable")
	}
	entry := sanctionsAuditEntry{Address: addr, Operation: strings.TrimSpace(operation)}
	if nowUnix := sl.clock().UTC().Unix(); nowUnix > 0 {
		entry.Timestamp = uint64(nowUnix)
	}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return sl.store.KVAppend(sanctionsAuditKey(addr), encoded)
}

// Hits returns the persisted deny-list hits for the provided address.
func (sl *SanctionsLog) Hits(addr ethcommon.Address) ([]SanctionsHit, error) {
	if sl == nil {
		return nil, fmt.Errorf("policy: sanctions log not initialised")
	}
	if sl.store == nil {
		return nil, fmt.Errorf("policy: sanctions log storage unavailable")
	}
	var raw [][]byte
	if err := sl.store.KVGetList(sanctionsAuditKey(addr), &raw); err != nil {
		return nil, err
	}
	hits := make([]SanctionsHit, 0, len(raw))
	for _, blob := range raw {
		var entry sanctionsAuditEntry
		if err := rlp.DecodeBytes(blob, &entry); err != nil {
			return nil, err
		}
		hit := SanctionsHit{Address: entry.Address, Operation: entry.Operation}
		if entry.Timestamp > 0 {
			hit.Timestamp = int64(entry.Timestamp)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func sanctionsAuditKey(addr ethcommon.Address) []byte {
	suffix := fmt.Sprintf("%x", addr.Bytes())
	key := make([]byte, len(sanctionsAuditPrefix)+len(suffix))
	copy(key, sanctionsAuditPrefix)
	copy(key[len(sanctionsAuditPrefix):], suffix)
	return key
}

var sanctionsAuditPrefix = []byte("policy/sanctions/audit/")
