package forecast

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed texts.yaml
var defaultTexts []byte

// Category — вид числа, для которого нужен текст толкования.
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryPersonalYear  Category = "personal_year"
	CategoryPersonalMonth Category = "personal_month"
	CategoryPersonalDay   Category = "personal_day"
)

// Categories перечисляет все категории.
var Categories = []Category{CategoryGeneral, CategoryPersonalYear, CategoryPersonalMonth, CategoryPersonalDay}

// Detail — подробность текста.
type Detail string

const (
	DetailFull  Detail = "full"
	DetailShort Detail = "short"
)

// ErrIncompleteTexts — в таблице толкований не хватает текстов.
var ErrIncompleteTexts = errors.New("interpretation texts are incomplete")

type textKey struct {
	category Category
	detail   Detail
	digit    int
}

// Texts — проверенная таблица толкований (категория, подробность, цифра) -> текст.
// Для каждой категории есть полный и краткий текст для всех цифр 1..9.
type Texts struct {
	m map[textKey]string
}

// Lookup возвращает текст толкования.
func (t *Texts) Lookup(c Category, d Detail, digit int) string {
	return t.m[textKey{category: c, detail: d, digit: digit}]
}

// DefaultTexts возвращает встроенные тексты.
func DefaultTexts() (*Texts, error) {
	return ParseTexts(bytes.NewReader(defaultTexts))
}

// LoadTexts читает тексты из YAML-файла.
func LoadTexts(path string) (*Texts, error) {
	const op = "forecast.LoadTexts"
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ParseTexts(f)
}

// ParseTexts разбирает YAML вида category -> full|short -> digit -> text и
// проверяет полноту таблицы.
func ParseTexts(r io.Reader) (*Texts, error) {
	const op = "forecast.ParseTexts"
	var raw map[Category]map[Detail]map[int]string
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t := &Texts{m: make(map[textKey]string, len(Categories)*2*9)}
	var missing []string
	for _, c := range Categories {
		for _, d := range []Detail{DetailFull, DetailShort} {
			for digit := 1; digit <= 9; digit++ {
				text := strings.TrimSpace(raw[c][d][digit])
				if text == "" {
					missing = append(missing, fmt.Sprintf("%s.%s.%d", c, d, digit))
					continue
				}
				t.m[textKey{category: c, detail: d, digit: digit}] = text
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: missing %s", op, ErrIncompleteTexts, strings.Join(missing, ", "))
	}
	return t, nil
}
