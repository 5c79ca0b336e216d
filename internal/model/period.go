package model

import (
	"fmt"
	"time"
)

// Period 统计周期（年, 月），月份取值 1-12，按 UTC 划分
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Year: u.Year(), Month: int(u.Month())}
}

func NewPeriod(year, month int) (Period, error) {
	if year < 1970 || year > 9999 {
		return Period{}, fmt.Errorf("年份不合法: %d", year)
	}
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("月份不合法: %d", month)
	}
	return Period{Year: year, Month: month}, nil
}

// Start 周期起始时刻（含）
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End 下一个周期的起始时刻（不含）
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Next() Period {
	return PeriodOf(p.End())
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// IsClosedAt 判断 t 是否落在 now 所在自然月之前（已关账周期）
func IsClosedAt(t, now time.Time) bool {
	return t.UTC().Before(PeriodOf(now).Start())
}
