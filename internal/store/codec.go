package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"referral-gate/pkg/models"
)

// ErrCorrupt сохранённое состояние не является валидным леджером
var ErrCorrupt = errors.New("невалидный формат леджера")

// fileRecord формат записи в JSON файле. Points обязателен, остальные поля по умолчанию пустые.
type fileRecord struct {
	Points  *int64          `json:"points"`
	Invites json.RawMessage `json:"invites"`
	Daily   json.RawMessage `json:"daily"`
}

// DecodeLedger разбирает JSON вида {id: {points, invites, daily}}
func DecodeLedger(data []byte) (*models.Ledger, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: ожидается объект", ErrCorrupt)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	ledger := models.NewLedger()
	for id, msg := range raw {
		msg = bytes.TrimSpace(msg)
		if len(msg) == 0 || msg[0] != '{' {
			return nil, fmt.Errorf("%w: запись %s не является объектом", ErrCorrupt, id)
		}

		var fr fileRecord
		if err := json.Unmarshal(msg, &fr); err != nil {
			return nil, fmt.Errorf("%w: запись %s: %v", ErrCorrupt, id, err)
		}
		if fr.Points == nil {
			return nil, fmt.Errorf("%w: у записи %s нет поля points", ErrCorrupt, id)
		}

		rec, err := decodeRecord(*fr.Points, fr.Invites, fr.Daily)
		if err != nil {
			return nil, fmt.Errorf("%w: запись %s: %v", ErrCorrupt, id, err)
		}
		ledger.Users[id] = rec
	}

	return ledger, nil
}

// EncodeLedger сериализует леджер в читаемый JSON
func EncodeLedger(ledger *models.Ledger) ([]byte, error) {
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации леджера: %w", err)
	}
	return append(data, '\n'), nil
}

// decodeRecord собирает запись из колонок/полей; пустые invites и daily допускаются
func decodeRecord(points int64, invites, daily []byte) (*models.UserRecord, error) {
	if points < 0 {
		return nil, fmt.Errorf("отрицательное количество очков: %d", points)
	}

	rec := models.NewUserRecord()
	rec.Points = points

	if len(invites) > 0 {
		if err := json.Unmarshal(invites, &rec.Invitees); err != nil {
			return nil, err
		}
		if rec.Invitees == nil {
			rec.Invitees = models.NewInviteSet()
		}
	}

	if d := bytes.TrimSpace(daily); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		if d[0] != '{' {
			return nil, fmt.Errorf("daily должен быть объектом")
		}
		if err := json.Unmarshal(d, &rec.Daily); err != nil {
			return nil, fmt.Errorf("daily: %w", err)
		}
	}

	return rec, nil
}

// encodeRecord возвращает JSON колонок invites и daily
func encodeRecord(rec *models.UserRecord) (string, string, error) {
	invites, err := json.Marshal(rec.Invitees)
	if err != nil {
		return "", "", fmt.Errorf("ошибка сериализации invites: %w", err)
	}

	daily := rec.Daily
	if daily == nil {
		daily = map[string]json.RawMessage{}
	}
	dailyJSON, err := json.Marshal(daily)
	if err != nil {
		return "", "", fmt.Errorf("ошибка сериализации daily: %w", err)
	}

	return string(invites), string(dailyJSON), nil
}
