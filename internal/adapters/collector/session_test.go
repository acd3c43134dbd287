package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gotd/td/session"
)

func TestNormalizeSessionGotdPassthrough(t *testing.T) {
	raw := []byte(`{"Version":1,"Data":{"DC":2,"Addr":"149.154.167.51:443"}}`)
	converted, changed, err := NormalizeSession(raw)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if changed {
		t.Fatalf("готовый gotd-JSON не требует конвертации")
	}
	if !bytes.Equal(converted, raw) {
		t.Fatalf("готовый gotd-JSON должен возвращаться как есть")
	}
}

func TestNormalizeSessionTelethonRows(t *testing.T) {
	key := strings.Repeat("ab", 256)
	raw := fmt.Sprintf(`[{"dc_id":2,"server_address":"149.154.167.51","port":443,"auth_key":"%s"}]`, key)

	converted, changed, err := NormalizeSession([]byte(raw))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !changed {
		t.Fatalf("выгрузка Telethon должна конвертироваться")
	}

	var payload struct {
		Version int
		Data    session.Data
	}
	if err := json.Unmarshal(converted, &payload); err != nil {
		t.Fatalf("результат должен быть валидным JSON: %v", err)
	}
	if payload.Version != 1 {
		t.Fatalf("ожидали Version 1, получили %d", payload.Version)
	}
	if payload.Data.DC != 2 {
		t.Fatalf("ожидали DC 2, получили %d", payload.Data.DC)
	}
	if payload.Data.Addr != "149.154.167.51:443" {
		t.Fatalf("ожидали адрес ДЦ, получили %q", payload.Data.Addr)
	}
	if len(payload.Data.AuthKey) != 256 {
		t.Fatalf("ожидали ключ в 256 байт, получили %d", len(payload.Data.AuthKey))
	}
	if len(payload.Data.AuthKeyID) != 8 {
		t.Fatalf("ожидали идентификатор ключа в 8 байт, получили %d", len(payload.Data.AuthKeyID))
	}
}

func TestNormalizeSessionRowsSkipIncomplete(t *testing.T) {
	key := strings.Repeat("cd", 256)
	raw := fmt.Sprintf(`[{"dc_id":1},{"dc_id":4,"server_address":"149.154.167.91","port":443,"auth_key":"%s"}]`, key)

	converted, _, err := NormalizeSession([]byte(raw))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	var payload struct {
		Data session.Data
	}
	if err := json.Unmarshal(converted, &payload); err != nil {
		t.Fatalf("результат должен быть валидным JSON: %v", err)
	}
	if payload.Data.DC != 4 {
		t.Fatalf("строки без ключа должны пропускаться, получили DC %d", payload.Data.DC)
	}
}

func TestNormalizeSessionBadKeyLength(t *testing.T) {
	raw := `[{"dc_id":2,"server_address":"149.154.167.51","port":443,"auth_key":"abcd"}]`
	_, _, err := NormalizeSession([]byte(raw))
	if !errors.Is(err, ErrUnknownSessionFormat) {
		t.Fatalf("короткий ключ не должен распознаваться, получили %v", err)
	}
}

func TestNormalizeSessionUnknownFormat(t *testing.T) {
	_, _, err := NormalizeSession([]byte("совсем не сессия"))
	if !errors.Is(err, ErrUnknownSessionFormat) {
		t.Fatalf("ожидали ErrUnknownSessionFormat, получили %v", err)
	}
}

func TestNormalizeSessionEmpty(t *testing.T) {
	if _, _, err := NormalizeSession([]byte("  \n")); err == nil {
		t.Fatalf("пустая сессия должна давать ошибку")
	}
}
