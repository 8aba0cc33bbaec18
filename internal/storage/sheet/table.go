// Package sheet предоставляет табличное хранилище со строковым доступом:
// чтение заголовка и всех строк, добавление строки и перезапись строки по индексу.
// Транзакций, индексов и блокировок у хранилища нет.
package sheet

import "context"

// Table — табличное хранилище. Индекс строки считается от первой строки данных
// (строки сразу после заголовка), начиная с нуля.
type Table interface {
	Header(ctx context.Context) ([]string, error)
	SetHeader(ctx context.Context, header []string) error
	Rows(ctx context.Context) ([][]string, error)
	AppendRow(ctx context.Context, row []string) error
	// UpdateRow заменяет строку index значениями row. Ячейки правее len(row)
	// реализации могут сохранить или стереть, поэтому row должна быть не короче
	// уже записанной строки.
	UpdateRow(ctx context.Context, index int, row []string) error
}
