package cli

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
)

type itemJSON struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Body        string    `json:"body"`
	Terms       []string  `json:"terms"`
	PublishedAt time.Time `json:"published_at"`
}

func init() {
	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "Элементы контента",
	}

	load := &cobra.Command{
		Use:   "load",
		Short: "Загрузить элементы из JSON-файла",
		Long:  "Читает JSON-массив элементов и сохраняет их в хранилище. Дубликаты по id пропускаются.",
		Run:   runItemsLoad,
	}
	load.Flags().StringP("file", "f", "", "JSON-файл с массивом элементов")
	_ = load.MarkFlagRequired("file")

	itemsCmd.AddCommand(load)
	RootCmd.AddCommand(itemsCmd)
}

func runItemsLoad(cmd *cobra.Command, args []string) {
	path, _ := cmd.Flags().GetString("file")
	raw, err := os.ReadFile(path)
	if err != nil {
		exitErr("чтение файла", err)
	}

	var payload []itemJSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		exitErr("разбор файла", err)
	}
	if len(payload) == 0 {
		exitErr("загрузка элементов", errors.New("файл не содержит элементов"))
	}

	items := make([]domain.Item, 0, len(payload))
	for _, p := range payload {
		if p.ID == "" || p.Title == "" {
			exitErr("загрузка элементов", errors.New("у каждого элемента должны быть id и title"))
		}
		published := p.PublishedAt
		if published.IsZero() {
			published = time.Now().UTC()
		}
		items = append(items, domain.Item{
			ID:          p.ID,
			Title:       p.Title,
			URL:         p.URL,
			Body:        p.Body,
			Terms:       p.Terms,
			PublishedAt: published,
		})
	}

	store, closeStore, err := openStorage(config.Load())
	if err != nil {
		exitErr("открытие хранилища", err)
	}
	defer closeStore()

	saved, err := store.SaveItems(cmd.Context(), items)
	if err != nil {
		exitErr("сохранение элементов", err)
	}
	printJSON(map[string]int{"saved": saved, "skipped": len(items) - saved})
}
