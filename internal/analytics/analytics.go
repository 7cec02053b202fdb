package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"shibe/internal/moderation"
)

type Service struct {
	store moderation.EventStore
}

func New(store moderation.EventStore) *Service {
	return &Service{store: store}
}

type Report struct {
	Since       time.Time
	Total       int
	Outstanding int
	ByAction    map[moderation.Action]int
	ByStatus    map[moderation.Status]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	events, err := s.store.ListEvents(ctx, moderation.Filter{GuildID: guildID, Since: &since})
	if err != nil {
		return Report{}, fmt.Errorf("%w: stats: %w", moderation.ErrStoreUnavailable, err)
	}

	report := Report{
		Since:    since,
		ByAction: make(map[moderation.Action]int),
		ByStatus: make(map[moderation.Status]int),
	}
	for _, event := range events {
		report.Total++
		report.ByAction[event.Action]++
		report.ByStatus[event.Status]++
		if event.Status.Outstanding() {
			report.Outstanding++
		}
	}
	return report, nil
}

// Format renders the report for a chat reply.
func Format(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Moderation since <t:%d:R>**\n", r.Since.Unix())
	fmt.Fprintf(&b, "Total: %d (outstanding %d)", r.Total, r.Outstanding)
	for _, line := range counts(r.ByAction) {
		b.WriteString("\n" + line)
	}
	return b.String()
}

func counts(byAction map[moderation.Action]int) []string {
	lines := make([]string, 0, len(byAction))
	for action, n := range byAction {
		lines = append(lines, fmt.Sprintf("%s: %d", action, n))
	}
	sort.Strings(lines)
	return lines
}
