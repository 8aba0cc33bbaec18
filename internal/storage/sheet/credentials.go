package sheet

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCredentials — переменная с ключом сервисного аккаунта пуста.
var ErrEmptyCredentials = errors.New("service account credentials are empty")

// DecodeCredentials принимает ключ сервисного аккаунта как JSON или как base64 от JSON.
func DecodeCredentials(raw string) ([]byte, error) {
	const op = "sheet.DecodeCredentials"
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyCredentials)
	}

	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: neither JSON nor base64: %w", op, err)
		}
		data = []byte(strings.TrimSpace(string(decoded)))
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: credentials are not valid JSON", op)
	}
	return data, nil
}
