package collector

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnknownSessionFormat возвращается, когда формат сессии не распознан.
var ErrUnknownSessionFormat = errors.New("неизвестный формат MTProto-сессии")

// NormalizeSession приводит MTProto-сессию к JSON-формату gotd
// session.Storage. Понимает уже готовый gotd-JSON, строковые сессии
// Telethon и JSON-выгрузку его таблицы sessions. Второй результат
// сообщает, потребовалась ли конвертация.
func NormalizeSession(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, errors.New("сессия пуста")
	}

	// Родной формат gotd отличается ненулевым полем Version.
	var gotd struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(trimmed, &gotd); err == nil && gotd.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}

	if converted, err := fromTelethonRows(trimmed); err == nil {
		return converted, true, nil
	}
	if converted, err := fromTelethonString(trimmed); err == nil {
		return converted, true, nil
	}
	return nil, false, ErrUnknownSessionFormat
}

// fromTelethonRows разбирает JSON-выгрузку таблицы sessions Telethon:
// [{dc_id, server_address, port, auth_key}, ...]. Берётся первая
// пригодная строка.
func fromTelethonRows(raw []byte) ([]byte, error) {
	type row struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	var rows []row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.AuthKey == "" || r.ServerAddress == "" || r.Port == 0 {
			continue
		}
		return encodeTelethonKey(r.DCID, r.ServerAddress, r.Port, r.AuthKey)
	}
	return nil, errors.New("в выгрузке Telethon нет пригодных строк")
}

func fromTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.TrimSpace(string(raw))
	candidate = strings.Trim(candidate, "\"'\n\r\t")
	if candidate == "" {
		return nil, errors.New("строковая сессия пуста")
	}

	data, err := session.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}
	// Строковая сессия не несёт конфигурации ДЦ, достраиваем минимум.
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, splitErr := net.SplitHostPort(data.Addr); splitErr == nil {
			if port, convErr := strconv.Atoi(portStr); convErr == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return marshalGotdSession(*data)
}

func encodeTelethonKey(dcID int, host string, port int, authKeyHex string) ([]byte, error) {
	authKeyHex = strings.Trim(strings.TrimSpace(authKeyHex), "'\"")
	if authKeyHex == "" {
		return nil, errors.New("auth_key пуст")
	}
	rawKey, err := hex.DecodeString(authKeyHex)
	if err != nil {
		return nil, fmt.Errorf("декодирование auth_key: %w", err)
	}
	if len(rawKey) != len(crypto.Key{}) {
		return nil, fmt.Errorf("неожиданная длина auth_key: %d байт", len(rawKey))
	}

	var key crypto.Key
	copy(key[:], rawKey)
	id := key.WithID().ID

	data := session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	}
	return marshalGotdSession(data)
}

func marshalGotdSession(data session.Data) ([]byte, error) {
	payload := struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data}
	return json.Marshal(payload)
}
