package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailsweep/mailsweep/internal/aggregate"
)

// ErrEnrichedURLSet reports an attempt to overwrite an already recorded
// enriched unsubscribe URL.
var ErrEnrichedURLSet = errors.New("enriched unsubscribe url already recorded")

// ErrUnknownSender reports a mutation against an address with no row.
var ErrUnknownSender = errors.New("unknown sender")

// SaveSenders upserts one row per aggregate record for the account.
// Counts, the display name, and the header-derived unsubscribe fields are
// replaced wholesale; a previously recorded enriched unsubscribe URL is
// never overwritten.
func (s *Store) SaveSenders(account string, records []*aggregate.SenderRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := s.withTx(func(tx *sql.Tx) error {
		upsert, err := tx.Prepare(`
			INSERT INTO senders (
				account, address, display_name, name_variants,
				message_count, unread_count, has_unread, last_seen_ms,
				unsubscribe_url, unsubscribe_mailto, unsubscribe_subject, unsubscribe_one_click,
				updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
			ON CONFLICT(account, address) DO UPDATE SET
				display_name = excluded.display_name,
				name_variants = excluded.name_variants,
				message_count = excluded.message_count,
				unread_count = excluded.unread_count,
				has_unread = excluded.has_unread,
				last_seen_ms = excluded.last_seen_ms,
				unsubscribe_url = excluded.unsubscribe_url,
				unsubscribe_mailto = excluded.unsubscribe_mailto,
				unsubscribe_subject = excluded.unsubscribe_subject,
				unsubscribe_one_click = excluded.unsubscribe_one_click,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("prepare sender upsert: %w", err)
		}
		defer upsert.Close()

		// Backfill guarded by the empty check so it can never trip the
		// write-once trigger.
		enrich, err := tx.Prepare(`
			UPDATE senders SET enriched_unsubscribe_url = ?
			WHERE account = ? AND address = ? AND enriched_unsubscribe_url = ''
		`)
		if err != nil {
			return fmt.Errorf("prepare enriched backfill: %w", err)
		}
		defer enrich.Close()

		for _, rec := range records {
			variants, err := marshalVariants(rec.NameVariants)
			if err != nil {
				return fmt.Errorf("marshal name variants for %s: %w", rec.Address, err)
			}

			_, err = upsert.Exec(
				account, rec.Address, rec.DisplayName, variants,
				rec.Count, rec.UnreadCount, boolToInt(rec.HasUnread), lastSeenMillis(rec.LastSeen),
				rec.Unsubscribe.URL, rec.Unsubscribe.MailTo, rec.Unsubscribe.MailSubject,
				boolToInt(rec.Unsubscribe.OneClick),
			)
			if err != nil {
				return fmt.Errorf("upsert sender %s: %w", rec.Address, err)
			}

			if rec.Unsubscribe.EnrichedURL != "" {
				if _, err := enrich.Exec(rec.Unsubscribe.EnrichedURL, account, rec.Address); err != nil {
					return fmt.Errorf("backfill enriched url for %s: %w", rec.Address, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyChange()
	return nil
}

const senderColumns = `
	address, display_name, name_variants,
	message_count, unread_count, has_unread, last_seen_ms,
	unsubscribe_url, unsubscribe_mailto, unsubscribe_subject, unsubscribe_one_click,
	enriched_unsubscribe_url`

// ListSenders returns every sender row for the account, busiest first,
// ties broken by address.
func (s *Store) ListSenders(account string) ([]*aggregate.SenderRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+senderColumns+`
		FROM senders
		WHERE account = ?
		ORDER BY message_count DESC, address ASC
	`, account)
	if err != nil {
		return nil, fmt.Errorf("list senders: %w", err)
	}
	defer rows.Close()

	var records []*aggregate.SenderRecord
	for rows.Next() {
		rec, err := scanSender(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate senders: %w", err)
	}

	return records, nil
}

// GetSender returns the row for a normalized address, or nil if there is
// none.
func (s *Store) GetSender(account, address string) (*aggregate.SenderRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+senderColumns+`
		FROM senders
		WHERE account = ? AND address = ?
	`, account, address)
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSender(rows)
}

// SetEnrichedURL records the body-derived unsubscribe URL for a sender.
// The column is write-once: a different value is rejected with
// ErrEnrichedURLSet, while recording the same value again succeeds.
func (s *Store) SetEnrichedURL(account, address, url string) error {
	if url == "" {
		return fmt.Errorf("empty enriched url for %s", address)
	}

	res, err := s.db.Exec(`
		UPDATE senders
		SET enriched_unsubscribe_url = ?, updated_at = datetime('now')
		WHERE account = ? AND address = ?
	`, url, account, address)
	if err != nil {
		if isSQLiteError(err, "write-once") {
			return ErrEnrichedURLSet
		}
		return fmt.Errorf("set enriched url: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSender, address)
	}

	s.notifyChange()
	return nil
}

// DeleteSender removes the row for an address, typically after every
// message from it has been deleted.
func (s *Store) DeleteSender(account, address string) error {
	res, err := s.db.Exec(`
		DELETE FROM senders WHERE account = ? AND address = ?
	`, account, address)
	if err != nil {
		return fmt.Errorf("delete sender: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.notifyChange()
	}
	return nil
}

func scanSender(rows *sql.Rows) (*aggregate.SenderRecord, error) {
	var (
		rec        aggregate.SenderRecord
		variants   string
		hasUnread  int
		oneClick   int
		lastSeenMS int64
	)

	err := rows.Scan(
		&rec.Address, &rec.DisplayName, &variants,
		&rec.Count, &rec.UnreadCount, &hasUnread, &lastSeenMS,
		&rec.Unsubscribe.URL, &rec.Unsubscribe.MailTo, &rec.Unsubscribe.MailSubject, &oneClick,
		&rec.Unsubscribe.EnrichedURL,
	)
	if err != nil {
		return nil, fmt.Errorf("scan sender row: %w", err)
	}

	rec.HasUnread = hasUnread != 0
	rec.Unsubscribe.OneClick = oneClick != 0
	if lastSeenMS > 0 {
		rec.LastSeen = time.UnixMilli(lastSeenMS).UTC()
	}
	rec.NameVariants, err = unmarshalVariants(variants)
	if err != nil {
		return nil, fmt.Errorf("unmarshal name variants for %s: %w", rec.Address, err)
	}

	return &rec, nil
}

func marshalVariants(variants []string) (string, error) {
	if len(variants) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(variants)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalVariants(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var variants []string
	if err := json.Unmarshal([]byte(data), &variants); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, nil
	}
	return variants, nil
}

func lastSeenMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
