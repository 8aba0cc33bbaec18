package sheet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory — табличное хранилище в памяти процесса. Используется при storage.kind=memory
// и в тестах. Latency добавляется к каждому чтению строк, чтобы воспроизводить гонки.
type Memory struct {
	mu      sync.Mutex
	header  []string
	rows    [][]string
	appends int
	updates int
	err     error

	Latency time.Duration
}

// NewMemory создает таблицу с заданным заголовком.
func NewMemory(header ...string) *Memory {
	return &Memory{header: append([]string(nil), header...)}
}

// Fail заставляет все последующие операции возвращать err; nil снимает сбой.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Writes возвращает число добавлений и перезаписей строк.
func (m *Memory) Writes() (appends, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends, m.updates
}

// Header возвращает копию заголовка.
func (m *Memory) Header(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), m.header...), nil
}

// SetHeader заменяет заголовок.
func (m *Memory) SetHeader(ctx context.Context, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.header = append([]string(nil), header...)
	return nil
}

// Rows возвращает копию всех строк данных.
func (m *Memory) Rows(ctx context.Context) ([][]string, error) {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	out := make([][]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

// AppendRow добавляет строку в конец.
func (m *Memory) AppendRow(ctx context.Context, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.rows = append(m.rows, append([]string(nil), row...))
	m.appends++
	return nil
}

// UpdateRow перезаписывает строку целиком.
func (m *Memory) UpdateRow(ctx context.Context, index int, row []string) error {
	const op = "sheet.Memory.UpdateRow"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	if index < 0 || index >= len(m.rows) {
		return fmt.Errorf("%s: row index %d out of range", op, index)
	}
	m.rows[index] = append([]string(nil), row...)
	m.updates++
	return nil
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.err
}
