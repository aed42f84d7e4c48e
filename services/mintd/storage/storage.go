package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/glebarez/sqlite"
)

// Storage wraps the mintd persistence layer.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("mintd storage path must be configured")

	// fallbackMemoryDSN is populated by explicit test builds that need an
	// in-memory database. Production binaries must provide an on-disk DSN.
	fallbackMemoryDSN string
)

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(path string) (*Storage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = fallbackMemoryDSN
		if trimmed == "" {
			return nil, ErrPathRequired
		}
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordAttestation persists one backing report for audit.
func (s *Storage) RecordAttestation(ctx context.Context, attestor ethcommon.Address, backing *big.Int, proofDigest string, submittedAt time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if backing == nil {
		return fmt.Errorf("attestation missing backing")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO attestations(attestor, backing, proof_digest, submitted_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, strings.ToLower(attestor.Hex()), backing.String(), strings.TrimSpace(proofDigest), submittedAt.UTC().Unix(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert attestation: %w", err)
	}
	return nil
}

// AttestationRecord is one persisted backing report.
type AttestationRecord struct {
	Attestor    string
	Backing     *big.Int
	ProofDigest string
	SubmittedAt time.Time
}

// RecentAttestations returns the newest persisted attestations, most recent
// first.
func (s *Storage) RecentAttestations(ctx context.Context, limit int) ([]AttestationRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT attestor, backing, proof_digest, submitted_at
        FROM attestations ORDER BY id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query attestations: %w", err)
	}
	defer rows.Close()
	out := make([]AttestationRecord, 0, limit)
	for rows.Next() {
		var (
			record      AttestationRecord
			backing     string
			submittedAt int64
		)
		if err := rows.Scan(&record.Attestor, &backing, &record.ProofDigest, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan attestation: %w", err)
		}
		value, ok := new(big.Int).SetString(backing, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt backing value %q", backing)
		}
		record.Backing = value
		record.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		out = append(out, record)
	}
	return out, rows.Err()
}

// RecordEvent appends one emitted domain event to the durable journal.
func (s *Storage) RecordEvent(ctx context.Context, eventType string, attributes map[string]string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO domain_events(event_type, attributes, recorded_at)
        VALUES(?, ?, ?)
    `, strings.TrimSpace(eventType), encodeAttributes(attributes), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventRecord is one persisted domain event.
type EventRecord struct {
	Type       string
	Attributes map[string]string
	RecordedAt time.Time
}

// RecentEvents returns the newest journal entries, most recent first.
func (s *Storage) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT event_type, attributes, recorded_at
        FROM domain_events ORDER BY id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out := make([]EventRecord, 0, limit)
	for rows.Next() {
		var (
			record EventRecord
			blob   string
		)
		if err := rows.Scan(&record.Type, &blob, &record.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.Attributes = decodeAttributes(blob)
		out = append(out, record)
	}
	return out, rows.Err()
}

// UpsertRedemption mirrors a holder's queued request for crash recovery.
func (s *Storage) UpsertRedemption(ctx context.Context, holder ethcommon.Address, amount *big.Int, requestedAt, unlockAt time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if amount == nil {
		return fmt.Errorf("redemption missing amount")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO redemption_requests(holder, amount, requested_at, unlock_at)
        VALUES(?, ?, ?, ?)
        ON CONFLICT(holder) DO UPDATE SET
            amount = excluded.amount,
            requested_at = excluded.requested_at,
            unlock_at = excluded.unlock_at
    `, strings.ToLower(holder.Hex()), amount.String(), requestedAt.UTC().Unix(), unlockAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("upsert redemption: %w", err)
	}
	return nil
}

// DeleteRedemption clears the mirror after settlement or cancellation.
func (s *Storage) DeleteRedemption(ctx context.Context, holder ethcommon.Address) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM redemption_requests WHERE holder = ?`, strings.ToLower(holder.Hex()))
	if err != nil {
		return fmt.Errorf("delete redemption: %w", err)
	}
	return nil
}

// RecordDailyUsage mirrors the UTC-day redemption counter.
func (s *Storage) RecordDailyUsage(ctx context.Context, day string, used *big.Int) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if used == nil {
		return fmt.Errorf("daily usage missing amount")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO daily_counters(day, used, updated_at)
        VALUES(?, ?, ?)
        ON CONFLICT(day) DO UPDATE SET
            used = excluded.used,
            updated_at = excluded.updated_at
    `, strings.TrimSpace(day), used.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record daily usage: %w", err)
	}
	return nil
}

// PayoutInstruction is one outbound reserve-asset order awaiting the
// custodian.
type PayoutInstruction struct {
	ID         int64
	To         string
	Amount     *big.Int
	Reason     string
	RecordedAt time.Time
}

// RecordPayoutInstruction durably queues an outbound reserve-asset order. The
// write is the payout call: if it fails the withdrawal must not settle.
func (s *Storage) RecordPayoutInstruction(ctx context.Context, to ethcommon.Address, amount *big.Int, reason string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if amount == nil {
		return fmt.Errorf("payout missing amount")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO payout_instructions(recipient, amount, reason, recorded_at)
        VALUES(?, ?, ?, ?)
    `, strings.ToLower(to.Hex()), amount.String(), strings.TrimSpace(reason), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert payout instruction: %w", err)
	}
	return nil
}

// RecentPayoutInstructions returns the newest instructions first.
func (s *Storage) RecentPayoutInstructions(ctx context.Context, limit int) ([]PayoutInstruction, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, recipient, amount, reason, recorded_at
        FROM payout_instructions
        ORDER BY id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query payout instructions: %w", err)
	}
	defer rows.Close()
	instructions := make([]PayoutInstruction, 0, limit)
	for rows.Next() {
		var (
			instruction PayoutInstruction
			amount      string
		)
		if err := rows.Scan(&instruction.ID, &instruction.To, &amount, &instruction.Reason, &instruction.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan payout instruction: %w", err)
		}
		parsed, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt payout amount %q", amount)
		}
		instruction.Amount = parsed
		instructions = append(instructions, instruction)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instructions, nil
}

// KVAppend appends a blob to a keyed list. Satisfies the sanctions audit
// log's storage contract.
func (s *Storage) KVAppend(key []byte, value []byte) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.Exec(`
        INSERT INTO kv_lists(list_key, value, recorded_at)
        VALUES(?, ?, ?)
    `, string(key), value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append kv list: %w", err)
	}
	return nil
}

// KVGetList loads all blobs for a key in insertion order into out, which must
// be a *[][]byte.
func (s *Storage) KVGetList(key []byte, out interface{}) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	target, ok := out.(*[][]byte)
	if !ok {
		return fmt.Errorf("kv list target must be *[][]byte")
	}
	rows, err := s.db.Query(`
        SELECT value FROM kv_lists WHERE list_key = ? ORDER BY id ASC
    `, string(key))
	if err != nil {
		return fmt.Errorf("query kv list: %w", err)
	}
	defer rows.Close()
	values := make([][]byte, 0)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return fmt.Errorf("scan kv list: %w", err)
		}
		values = append(values, blob)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	*target = values
	return nil
}

// Attribute encoding keeps the journal greppable without a JSON dependency in
// the hot path: sorted key=value pairs joined by unit separators.
func encodeAttributes(attributes map[string]string) string {
	if len(attributes) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(attributes))
	for key, value := range attributes {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\x1f")
}

func decodeAttributes(blob string) map[string]string {
	if blob == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(blob, "\x1f") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		out[key] = value
	}
	return out
}

const schema = `
CREATE TABLE IF NOT EXISTS attestations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attestor TEXT NOT NULL,
    backing TEXT NOT NULL,
    proof_digest TEXT NOT NULL,
    submitted_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attestations_attestor_ts ON attestations(attestor, submitted_at);

CREATE TABLE IF NOT EXISTS domain_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_domain_events_type_ts ON domain_events(event_type, recorded_at);

CREATE TABLE IF NOT EXISTS redemption_requests (
    holder TEXT PRIMARY KEY,
    amount TEXT NOT NULL,
    requested_at INTEGER NOT NULL,
    unlock_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_counters (
    day TEXT PRIMARY KEY,
    used TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS payout_instructions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recipient TEXT NOT NULL,
    amount TEXT NOT NULL,
    reason TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_lists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    list_key TEXT NOT NULL,
    value BLOB NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_lists_key ON kv_lists(list_key, id);
`
