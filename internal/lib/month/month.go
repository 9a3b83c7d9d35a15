// Package month содержит календарную арифметику для окон подписки.
package month

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// Add прибавляет к дате n календарных месяцев.
//
// Используется нормализация time.AddDate: 31 января + 1 месяц даёт 2 или 3 марта,
// а не фиксированные 30 дней.
func Add(start time.Time, n int) time.Time {
	return start.AddDate(0, n, 0)
}

// DaysLeft возвращает число дней до until, округлённое вверх.
// Для прошедшей даты возвращает 0.
func DaysLeft(now, until time.Time) int {
	left := until.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day)))
}
