// Package calendar 计算游戏周：以固定星期几的固定整点为每周起点（默认周一 07:00）。
package calendar

import (
	"fmt"
	"time"
)

// Calendar 游戏周日历，零值不可用，使用 New 或 Default 构造
type Calendar struct {
	anchorWeekday int // 1=周一 ... 7=周日
	anchorHour    int
	loc           *time.Location
}

// New 创建游戏周日历
func New(anchorWeekday, anchorHour int, loc *time.Location) (Calendar, error) {
	if anchorWeekday < 1 || anchorWeekday > 7 {
		return Calendar{}, fmt.Errorf("anchorWeekday 超出范围: %d", anchorWeekday)
	}
	if anchorHour < 0 || anchorHour > 23 {
		return Calendar{}, fmt.Errorf("anchorHour 超出范围: %d", anchorHour)
	}
	if loc == nil {
		loc = time.Local
	}
	return Calendar{anchorWeekday: anchorWeekday, anchorHour: anchorHour, loc: loc}, nil
}

// Default 周一 07:00（本地时区）
func Default() Calendar {
	return Calendar{anchorWeekday: 1, anchorHour: 7, loc: time.Local}
}

// FromConfig 按配置构造，timezone 为空时使用本地时区
func FromConfig(anchorWeekday, anchorHour int, timezone string) (Calendar, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return Calendar{}, fmt.Errorf("加载时区失败: %w", err)
		}
		loc = l
	}
	return New(anchorWeekday, anchorHour, loc)
}

func (c Calendar) AnchorWeekday() int       { return c.anchorWeekday }
func (c Calendar) AnchorHour() int          { return c.anchorHour }
func (c Calendar) Location() *time.Location { return c.loc }
func (c Calendar) String() string {
	return fmt.Sprintf("weekday=%d hour=%02d:00 tz=%s", c.anchorWeekday, c.anchorHour, c.loc)
}

// WeekStart 返回 t 所在游戏周的起点
func (c Calendar) WeekStart(t time.Time) time.Time {
	local := t.In(c.loc)
	weekday := isoWeekday(local)

	var back int
	switch {
	case weekday == c.anchorWeekday:
		if local.Hour() < c.anchorHour {
			back = 7
		}
	case weekday == c.anchorWeekday-1 || (c.anchorWeekday == 1 && weekday == 7):
		back = 6
	default:
		back = (weekday - c.anchorWeekday + 7) % 7
	}

	// 用 time.Date 按日历日回退，跨夏令时也能落在锚点整点
	return time.Date(local.Year(), local.Month(), local.Day()-back, c.anchorHour, 0, 0, 0, c.loc)
}

// WeekEnd 返回 t 所在游戏周的最后一毫秒
func (c Calendar) WeekEnd(t time.Time) time.Time {
	start := c.WeekStart(t)
	next := time.Date(start.Year(), start.Month(), start.Day()+7, c.anchorHour, 0, 0, 0, c.loc)
	return next.Add(-time.Millisecond)
}

// NextWeekStart 返回下一个游戏周起点
func (c Calendar) NextWeekStart(weekStart time.Time) time.Time {
	ws := weekStart.In(c.loc)
	return time.Date(ws.Year(), ws.Month(), ws.Day()+7, c.anchorHour, 0, 0, 0, c.loc)
}

// SameWeek 两个时刻是否属于同一游戏周（按起点的日历日比较）
func (c Calendar) SameWeek(a, b time.Time) bool {
	wa := c.WeekStart(a)
	wb := c.WeekStart(b)
	return wa.Year() == wb.Year() && wa.YearDay() == wb.YearDay()
}

// WeekNumber 返回游戏周编号（起点日的 ISO 周）
func (c Calendar) WeekNumber(t time.Time) int {
	_, week := c.WeekStart(t).ISOWeek()
	return week
}

// WeekYear 返回与 WeekNumber 配对的 ISO 年
func (c Calendar) WeekYear(t time.Time) int {
	year, _ := c.WeekStart(t).ISOWeek()
	return year
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
