// Package numerology вычисляет числа дня сведением цифр даты к одной цифре.
// Пакет не имеет состояния и побочных эффектов.
package numerology

import "time"

// Numbers — набор чисел прогноза на конкретный день.
type Numbers struct {
	General       int // число дня, общее для всех
	PersonalYear  int
	PersonalMonth int
	PersonalDay   int
}

// DigitalRoot складывает десятичные цифры n, пока не останется одна цифра.
// Результат всегда в диапазоне [1, 9]: ноль сводится к 9. Для отрицательных n
// берется модуль; он считается в uint, чтобы math.MinInt не переполнялся.
func DigitalRoot(n int) int {
	u := uint(n)
	if n < 0 {
		u = -u
	}
	for u > 9 {
		var sum uint
		for u > 0 {
			sum += u % 10
			u /= 10
		}
		u = sum
	}
	if u == 0 {
		return 9
	}
	return int(u)
}

// GeneralDay возвращает число дня для календарной даты.
func GeneralDay(today time.Time) int {
	y, m, d := today.Date()
	return DigitalRoot(DigitalRoot(d) + DigitalRoot(int(m)) + DigitalRoot(y))
}

// DayNumbers вычисляет общее число дня и личные числа года, месяца и дня
// для даты рождения birth на дату today.
func DayNumbers(birth, today time.Time) Numbers {
	_, bm, bd := birth.Date()
	ty, tm, td := today.Date()

	year := DigitalRoot(DigitalRoot(bd) + DigitalRoot(int(bm)) + DigitalRoot(ty))
	month := DigitalRoot(year + DigitalRoot(int(tm)))
	day := DigitalRoot(month + DigitalRoot(td))

	return Numbers{
		General:       GeneralDay(today),
		PersonalYear:  year,
		PersonalMonth: month,
		PersonalDay:   day,
	}
}
