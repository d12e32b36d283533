package dimension

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

// DateKey encodes a calendar day as YYYYMMDD.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// BuildDates returns one row per calendar day in [start, end].
func BuildDates(start, end time.Time) []database.DateDim {
	start = truncateDay(start)
	end = truncateDay(end)

	var days []database.DateDim
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		_, week := d.ISOWeek()
		dow := int(d.Weekday())
		if dow == 0 {
			dow = 7
		}
		days = append(days, database.DateDim{
			DateKey:    DateKey(d),
			FullDate:   d.Format(database.DateLayout),
			Year:       d.Year(),
			Quarter:    (int(d.Month())-1)/3 + 1,
			Month:      int(d.Month()),
			MonthName:  d.Month().String(),
			WeekOfYear: week,
			DayOfMonth: d.Day(),
			DayOfWeek:  dow,
			DayName:    d.Weekday().String(),
			IsWeekend:  dow >= 6,
		})
	}
	return days
}

// SeedDates inserts any missing day of the horizon. Existing days are left untouched.
func (r *Refresher) SeedDates(ctx context.Context, start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("date horizon end %s before start %s",
			end.Format(database.DateLayout), start.Format(database.DateLayout))
	}
	n, err := r.db.InsertDates(ctx, BuildDates(start, end))
	if err != nil {
		return 0, fmt.Errorf("seeding dates: %w", err)
	}
	r.log.Info("date dimension seeded", zap.String("table", DateTable), zap.Int("inserted", n))
	return n, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
