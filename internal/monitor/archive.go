package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// runArchiveCron moves aged rows to cold storage on the configured cron
// schedule. Archive failures are logged and retried on the next trigger.
func (s *Scheduler) runArchiveCron(ctx context.Context) error {
	s.logger.Info("archive cron started", slog.String("cron", s.cfg.ArchiveCron))

	for {
		next, err := nextCronTime(s.cfg.ArchiveCron, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("monitor: parse cron %q: %w", s.cfg.ArchiveCron, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := s.archiveOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduler: archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveOnce archives ledger events and transactions older than the
// retention window.
func (s *Scheduler) archiveOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	s.logger.InfoContext(ctx, "scheduler: archive run starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", s.cfg.RetentionDays),
	)

	events, err := s.archiver.ArchiveLedgerEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("monitor: archive ledger events before %v: %w", cutoff, err)
	}

	txs, err := s.archiver.ArchiveTransactions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("monitor: archive transactions before %v: %w", cutoff, err)
	}

	s.logger.InfoContext(ctx, "scheduler: archive run complete",
		slog.Int64("ledger_events", events),
		slog.Int64("transactions", txs),
	)
	return nil
}

// cronField is one parsed field of a 5-field cron expression.
type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a standard 5-field cron expression:
// "minute hour day-of-month month day-of-week".
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var (
		parsed parsedCron
		err    error
	)
	names := []string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	slots := []*cronField{&parsed.minute, &parsed.hour, &parsed.dayOfMonth, &parsed.month, &parsed.dayOfWeek}
	for i, field := range fields {
		*slots[i], err = parseCronField(field)
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
	}
	return parsed, nil
}

// nextCronTime finds the first minute after 'after' that matches the
// expression, searching up to a year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
