// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование чисел, работа с временем.
package common

import (
	"fmt"
	"time"

	// База часовых поясов внутри бинарника: в scratch-образе её нет
	_ "time/tzdata"
)

// pluralForm выбирает одну из трёх русских форм слова для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
func pluralForm(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeStars возвращает правильную форму слова «звезда» для числа n.
//
// Примеры:
//
//	PluralizeStars(1)  → "звезда"
//	PluralizeStars(3)  → "звезды"
//	PluralizeStars(5)  → "звёзд"
//	PluralizeStars(11) → "звёзд"
//	PluralizeStars(21) → "звезда"
func PluralizeStars(n int64) string {
	return pluralForm(n, "звезда", "звезды", "звёзд")
}

// PluralizeTasks возвращает правильную форму слова «задание».
func PluralizeTasks(n int) string {
	return pluralForm(int64(n), "задание", "задания", "заданий")
}

// FormatBalance форматирует баланс в читабельную строку.
// Пример: FormatBalance(150) → "150 звёзд"
func FormatBalance(balance int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(balance), PluralizeStars(balance))
}

// LoadLocation загружает часовой пояс по имени.
// Если не удалось — используем UTC, чтобы дни считались хоть как-то предсказуемо.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StartOfDay возвращает полночь дня t в часовом поясе loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfWeek возвращает полночь понедельника недели, в которую попадает t.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	// Sunday = 0, нам нужна неделя с понедельника
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в часовом поясе loc.
// Используется для отображения дат транзакций.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}
