// Package state is the persisted slot store. It is the only shared mutable
// resource in the system: the session engine coordinates entirely through
// slot writes, and every other component only reads.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store persists the four session slots in SQLite.
// Uses WAL mode for concurrent read access while the engine writes.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the wall clock used for modified_at stamps. Tests use
// this to make last-modified times deterministic.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the slot database at the given path.
// Applies required pragmas and the schema automatically; idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open slot store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect slot store: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under the engine's write pattern.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot is a point-in-time view of every slot. Nil fields mean the slot
// is empty. Rules evaluate their guards against a Snapshot and never against
// assumed execution order.
type Snapshot struct {
	Registration *AppRegistration
	AuthCode     *AuthorizationCode
	Token        *AccessToken
	Cache        *ArticleCache

	// ModifiedAt holds the last-modified time per populated slot.
	ModifiedAt map[Slot]time.Time
}

// Has reports whether the snapshot holds a value for slot.
func (s Snapshot) Has(slot Slot) bool {
	switch slot {
	case SlotRegistration:
		return s.Registration != nil
	case SlotAuthCode:
		return s.AuthCode != nil
	case SlotAccessToken:
		return s.Token != nil
	case SlotArticleCache:
		return s.Cache != nil
	default:
		return false
	}
}

// Snapshot reads all four slots in one transaction.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	defer tx.Rollback()

	snap := Snapshot{ModifiedAt: make(map[Slot]time.Time, len(Slots))}

	rows, err := tx.QueryContext(ctx, `SELECT name, payload, modified_at FROM slots`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, payload string
		var modifiedMillis int64
		if err := rows.Scan(&name, &payload, &modifiedMillis); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: %w", err)
		}
		if err := snap.decode(Slot(name), []byte(payload)); err != nil {
			return Snapshot{}, err
		}
		snap.ModifiedAt[Slot(name)] = time.UnixMilli(modifiedMillis)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

func (snap *Snapshot) decode(slot Slot, payload []byte) error {
	switch slot {
	case SlotRegistration:
		snap.Registration = &AppRegistration{}
		return unmarshalSlot(slot, payload, snap.Registration)
	case SlotAuthCode:
		snap.AuthCode = &AuthorizationCode{}
		return unmarshalSlot(slot, payload, snap.AuthCode)
	case SlotAccessToken:
		snap.Token = &AccessToken{}
		return unmarshalSlot(slot, payload, snap.Token)
	case SlotArticleCache:
		snap.Cache = &ArticleCache{}
		return unmarshalSlot(slot, payload, snap.Cache)
	default:
		// Unknown rows are ignored rather than failing the whole snapshot.
		return nil
	}
}

func unmarshalSlot(slot Slot, payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("slot %s holds invalid payload: %w", slot, err)
	}
	return nil
}

// Change is one rule's effect on the store: any combination of slot writes
// and slot clears, applied atomically. A rule either fully applies its
// Change or leaves prior state untouched.
type Change struct {
	SetRegistration *AppRegistration
	SetAuthCode     *AuthorizationCode
	SetToken        *AccessToken
	SetCache        *ArticleCache
	Clear           []Slot
}

// Empty reports whether the change would write nothing.
func (c Change) Empty() bool {
	return c.SetRegistration == nil && c.SetAuthCode == nil &&
		c.SetToken == nil && c.SetCache == nil && len(c.Clear) == 0
}

// Written lists the slots the change sets, in declaration order.
func (c Change) Written() []Slot {
	var slots []Slot
	if c.SetRegistration != nil {
		slots = append(slots, SlotRegistration)
	}
	if c.SetAuthCode != nil {
		slots = append(slots, SlotAuthCode)
	}
	if c.SetToken != nil {
		slots = append(slots, SlotAccessToken)
	}
	if c.SetCache != nil {
		slots = append(slots, SlotArticleCache)
	}
	return slots
}

// Changed lists every slot the change touches, sets before clears,
// without duplicates. A clear counts as a change only when prior actually
// held the slot: rules watching a slot re-evaluate when it empties, not
// only when it fills.
func (c Change) Changed(prior Snapshot) []Slot {
	slots := c.Written()
	seen := make(map[Slot]bool, len(slots)+len(c.Clear))
	for _, slot := range slots {
		seen[slot] = true
	}
	for _, slot := range c.Clear {
		if prior.Has(slot) && !seen[slot] {
			seen[slot] = true
			slots = append(slots, slot)
		}
	}
	return slots
}

// Apply validates and applies a change in a single transaction.
// Clears run before sets, so a change may replace a slot it clears.
func (s *Store) Apply(ctx context.Context, change Change) error {
	type write struct {
		slot   Slot
		record interface{ Validate() error }
	}
	var writes []write
	if change.SetRegistration != nil {
		writes = append(writes, write{SlotRegistration, *change.SetRegistration})
	}
	if change.SetAuthCode != nil {
		writes = append(writes, write{SlotAuthCode, *change.SetAuthCode})
	}
	if change.SetToken != nil {
		writes = append(writes, write{SlotAccessToken, *change.SetToken})
	}
	if change.SetCache != nil {
		writes = append(writes, write{SlotArticleCache, *change.SetCache})
	}

	// Validate everything before touching the database.
	for _, w := range writes {
		if err := w.record.Validate(); err != nil {
			return fmt.Errorf("slot %s: %w", w.slot, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply change: %w", err)
	}
	defer tx.Rollback()

	for _, slot := range change.Clear {
		if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE name = ?`, string(slot)); err != nil {
			return fmt.Errorf("clear slot %s: %w", slot, err)
		}
	}

	nowMillis := s.now().UnixMilli()
	for _, w := range writes {
		payload, err := json.Marshal(w.record)
		if err != nil {
			return fmt.Errorf("encode slot %s: %w", w.slot, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO slots (name, payload, modified_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				payload = excluded.payload,
				modified_at = excluded.modified_at
		`, string(w.slot), string(payload), nowMillis)
		if err != nil {
			return fmt.Errorf("write slot %s: %w", w.slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply change: %w", err)
	}
	return nil
}
