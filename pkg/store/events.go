package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultEventLimit = 100

const eventColumns = `event_id, event_type, schema_version, seq, ts_event, ts_ingest,
	origin_kind, origin_id, writer_id, correlation_id, payload`

// AppendEvent persists an event. Appending an event whose id or seq is
// already stored is a no-op, so retried writes are safe.
func (s *Store) AppendEvent(ctx context.Context, evt *Event) error {
	if evt.TsIngest.IsZero() {
		evt.TsIngest = time.Now().UTC()
	}
	payload := evt.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(evt.EventID), string(evt.EventType), evt.SchemaVersion, evt.Seq,
		evt.TsEvent.UTC(), evt.TsIngest.UTC(),
		evt.Source.OriginKind, evt.Source.OriginID, evt.Source.WriterID,
		evt.CorrelationID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", evt.EventID, err)
	}
	return nil
}

// GetEvent returns the event with the given id, or nil if there is none.
func (s *Store) GetEvent(ctx context.Context, id EventID) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = ?`, string(id))
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return evt, nil
}

// ReadRecentEvents returns up to limit events, newest first.
func (s *Store) ReadRecentEvents(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	return collectEvents(rows)
}

// ReadEventsAfterSeq returns up to limit events with seq greater than after, in seq order.
// A non-positive limit reads everything.
func (s *Store) ReadEventsAfterSeq(ctx context.Context, after int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events after %d: %w", after, err)
	}
	return collectEvents(rows)
}

// ReadEventsSince returns up to limit events ingested at or after since, in seq order.
func (s *Store) ReadEventsSince(ctx context.Context, since time.Time, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE ts_ingest >= ? ORDER BY seq ASC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events since %s: %w", since.Format(time.RFC3339), err)
	}
	return collectEvents(rows)
}

// ReadEventsUpToSeq returns every event with seq at or below upTo, in seq order.
func (s *Store) ReadEventsUpToSeq(ctx context.Context, upTo int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE seq <= ? ORDER BY seq ASC`, upTo)
	if err != nil {
		return nil, fmt.Errorf("failed to read events up to %d: %w", upTo, err)
	}
	return collectEvents(rows)
}

// DeleteEventsUpToSeq removes events with seq at or below upTo and reports how many went.
func (s *Store) DeleteEventsUpToSeq(ctx context.Context, upTo int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE seq <= ?`, upTo)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events up to %d: %w", upTo, err)
	}
	return res.RowsAffected()
}

// LatestSeq returns the highest stored seq, or 0 for an empty log.
func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read latest seq: %w", err)
	}
	return seq.Int64, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		evt                          Event
		id, typ, payload             string
		originKind, originID, writer sql.NullString
		correlation                  sql.NullString
	)
	err := row.Scan(&id, &typ, &evt.SchemaVersion, &evt.Seq, &evt.TsEvent, &evt.TsIngest,
		&originKind, &originID, &writer, &correlation, &payload)
	if err != nil {
		return nil, err
	}
	evt.EventID = EventID(id)
	evt.EventType = EventType(typ)
	evt.Source = EventSource{OriginKind: originKind.String, OriginID: originID.String, WriterID: writer.String}
	evt.CorrelationID = correlation.String
	evt.Payload = []byte(payload)
	return &evt, nil
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
