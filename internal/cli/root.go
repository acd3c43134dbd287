// Package cli реализует команды операторского CLI newsctl.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"newsletter-engine/internal/adapters/collector"
	"newsletter-engine/internal/adapters/composer"
	"newsletter-engine/internal/adapters/repo"
	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/infra/db"
	"newsletter-engine/internal/infra/queue"
)

// RootCmd — корневая команда newsctl.
var RootCmd = &cobra.Command{
	Use:   "newsctl",
	Short: "Операторский CLI движка рассылок",
	Long: "Управление каналами, подписками, сборкой и очередью доставки.\n" +
		"Подключения берутся из переменных окружения (STORAGE_BACKEND, PG_DSN, REDIS_ADDR и т.д.).",
}

type storage interface {
	domain.ChannelRepo
	domain.SubscriptionRepo
	domain.ItemRepo
	domain.MessageRepo
}

// Сервисные логи в одноразовых командах не нужны, печатается только результат.
var nopLog = zerolog.Nop()

func openStorage(cfg config.AppConfig) (storage, func(), error) {
	if cfg.Storage.Backend == "sqlite" {
		conn, err := db.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("открытие SQLite: %w", err)
		}
		store, err := repo.NewSQLite(conn)
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("схема SQLite: %w", err)
		}
		return store, func() { _ = conn.Close() }, nil
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("подключение к БД: %w", err)
	}
	return repo.NewPostgres(pool), pool.Close, nil
}

func openQueue(cfg config.AppConfig) (domain.DispatchQueue, func(), error) {
	if cfg.Queues.Backend == "rabbitmq" {
		q, err := queue.NewRabbitDispatchQueue(cfg.RabbitURL, cfg.Queues.Dispatch)
		if err != nil {
			return nil, nil, fmt.Errorf("подключение к RabbitMQ: %w", err)
		}
		return q, func() { _ = q.Close() }, nil
	}
	if cfg.RedisAddr == "" {
		return nil, nil, fmt.Errorf("не указан адрес Redis (REDIS_ADDR)")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return queue.NewRedisDispatchQueue(client, cfg.Queues.Dispatch), func() { _ = client.Close() }, nil
}

// buildRegistries собирает реестры коллекторов и рендеров так же, как
// демоны: terms всегда, telegram при настроенных ключах API. Конфиг
// коллекторов читается один раз, наблюдение за файлом здесь не нужно.
func buildRegistries(cfg config.AppConfig, store storage) (map[string]domain.Collector, map[string]domain.Composer) {
	watcher := config.NewWatcher(cfg.Collectors.ConfigPath, nopLog)
	file, _ := watcher.Load()

	collectors := map[string]domain.Collector{
		"terms": collector.NewTerms(store, collectorOptions(file, "terms"), nopLog),
	}
	if cfg.Telegram.APIID != 0 && cfg.Telegram.APIHash != "" {
		collectors["telegram"] = collector.NewTelegram(
			cfg.Telegram.APIID,
			cfg.Telegram.APIHash,
			cfg.Telegram.SessionFile,
			cfg.Telegram.GlobalRPS,
			collectorOptions(file, "telegram"),
			nopLog,
		)
	}

	composers := map[string]domain.Composer{
		"plain":    composer.NewPlain("", cfg.Limits.MessageMaxItems),
		"html":     composer.NewHTML("", cfg.Limits.MessageMaxItems),
		"telegram": composer.NewTelegram("", cfg.Limits.MessageMaxItems),
	}
	return collectors, composers
}

func collectorOptions(file config.CollectorsFile, name string) collector.Options {
	opts := file.Collectors[name]
	return collector.Options{
		FieldTitle:    opts.FieldTitle,
		FilteredItems: opts.FilteredItems,
		Sources:       opts.Sources,
	}
}

func splitComma(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "ошибка: %s: %v\n", msg, err)
	os.Exit(1)
}
