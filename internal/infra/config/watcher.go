package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	yaml "go.yaml.in/yaml/v3"
)

// CollectorOptions — настройки одного коллектора из файла конфигурации.
// FieldTitle переопределяет подпись поля выбора, FilteredItems ограничивает
// предлагаемый словарь, Sources задаёт источники для Telegram-коллектора.
type CollectorOptions struct {
	FieldTitle    string   `yaml:"field_title"`
	FilteredItems []string `yaml:"filtered_items"`
	Sources       []string `yaml:"sources"`
}

// CollectorsFile — содержимое YAML-файла с настройками коллекторов.
type CollectorsFile struct {
	Collectors map[string]CollectorOptions `yaml:"collectors"`
}

// Watcher следит за файлом настроек коллекторов и раздаёт обновления
// подписчикам. Изменения применяются без перезапуска сервиса.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	current CollectorsFile

	subsMu sync.Mutex
	subs   []chan CollectorsFile
}

// NewWatcher создаёт наблюдателя за файлом по указанному пути.
func NewWatcher(path string, logger zerolog.Logger) *Watcher {
	return &Watcher{path: path, log: logger}
}

// Load читает и применяет файл настроек.
func (w *Watcher) Load() (CollectorsFile, error) {
	parsed, err := w.parse()
	if err != nil {
		return CollectorsFile{}, err
	}
	w.mu.Lock()
	w.current = parsed
	w.mu.Unlock()
	return parsed, nil
}

// Current возвращает последнюю успешно применённую конфигурацию.
func (w *Watcher) Current() CollectorsFile {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe возвращает канал, в который попадает каждая применённая
// конфигурация.
func (w *Watcher) Subscribe() <-chan CollectorsFile {
	ch := make(chan CollectorsFile, 1)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()
	return ch
}

// Watch блокирующе следит за файлом до отмены контекста. Ошибочные правки
// логируются, действующей остаётся предыдущая конфигурация.
func (w *Watcher) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("создание fsnotify: %w", err)
	}
	defer watcher.Close()

	// Следим за каталогом: редакторы часто заменяют файл через rename.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("подписка на каталог: %w", err)
	}

	var timer *time.Timer
	reload := func() {
		parsed, err := w.parse()
		if err != nil {
			w.log.Error().Err(err).Str("path", w.path).Msg("конфиг коллекторов не применён")
			return
		}
		w.mu.Lock()
		w.current = parsed
		w.mu.Unlock()
		w.log.Info().Str("path", w.path).Int("collectors", len(parsed.Collectors)).Msg("конфиг коллекторов перечитан")
		w.publish(parsed)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			// Дебаунс: редакторы пишут файл в несколько приёмов.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("fsnotify: ошибка наблюдателя")
		}
	}
}

func (w *Watcher) publish(cfg CollectorsFile) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}

func (w *Watcher) parse() (CollectorsFile, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return CollectorsFile{}, fmt.Errorf("чтение %s: %w", w.path, err)
	}
	var parsed CollectorsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return CollectorsFile{}, fmt.Errorf("разбор %s: %w", w.path, err)
	}
	return parsed, nil
}
