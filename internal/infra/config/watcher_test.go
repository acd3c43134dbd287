package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("не удалось записать файл: %v", err)
	}
}

func TestWatcherLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collectors.yaml")
	writeFile(t, path, `
collectors:
  terms:
    field_title: Рубрики
    filtered_items: [go, rust]
  telegram:
    sources: [golang_news]
`)

	w := NewWatcher(path, zerolog.Nop())
	cfg, err := w.Load()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	terms, ok := cfg.Collectors["terms"]
	if !ok {
		t.Fatalf("ожидали настройки коллектора terms")
	}
	if terms.FieldTitle != "Рубрики" {
		t.Fatalf("ожидали подпись поля, получили %q", terms.FieldTitle)
	}
	if len(terms.FilteredItems) != 2 {
		t.Fatalf("ожидали сужение словаря, получили %v", terms.FilteredItems)
	}
	if len(cfg.Collectors["telegram"].Sources) != 1 {
		t.Fatalf("ожидали источники telegram-коллектора")
	}
}

func TestWatcherKeepsCurrentOnBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collectors.yaml")
	writeFile(t, path, "collectors:\n  terms:\n    field_title: Темы\n")

	w := NewWatcher(path, zerolog.Nop())
	if _, err := w.Load(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	writeFile(t, path, "collectors: [не словарь")
	if _, err := w.Load(); err == nil {
		t.Fatalf("ожидали ошибку разбора")
	}
	if w.Current().Collectors["terms"].FieldTitle != "Темы" {
		t.Fatalf("действующей должна остаться предыдущая конфигурация")
	}
}

func TestWatcherLoadMissingFile(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "нет.yaml"), zerolog.Nop())
	if _, err := w.Load(); err == nil {
		t.Fatalf("ожидали ошибку чтения")
	}
}
