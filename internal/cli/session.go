package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"newsletter-engine/internal/adapters/collector"
	"newsletter-engine/internal/infra/config"
)

func init() {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "MTProto-сессия коллектора Telegram",
	}

	imp := &cobra.Command{
		Use:   "import",
		Short: "Импортировать сессию из файла",
		Long: "Читает сессию в формате gotd JSON, строковой сессии Telethon или\n" +
			"JSON-выгрузки его таблицы sessions и записывает её в файл сессии\n" +
			"коллектора (TG_SESSION_FILE).",
		Run: runSessionImport,
	}
	imp.Flags().StringP("file", "f", "", "Файл с сессией")
	_ = imp.MarkFlagRequired("file")

	sessionCmd.AddCommand(imp)
	RootCmd.AddCommand(sessionCmd)
}

func runSessionImport(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	path, _ := cmd.Flags().GetString("file")
	raw, err := os.ReadFile(path)
	if err != nil {
		exitErr("чтение файла сессии", err)
	}

	normalized, converted, err := collector.NormalizeSession(raw)
	if err != nil {
		exitErr("разбор сессии", err)
	}

	if dir := filepath.Dir(cfg.Telegram.SessionFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			exitErr("создание каталога сессии", err)
		}
	}
	if err := os.WriteFile(cfg.Telegram.SessionFile, normalized, 0o600); err != nil {
		exitErr("запись файла сессии", err)
	}

	printJSON(map[string]any{
		"session_file": cfg.Telegram.SessionFile,
		"converted":    converted,
		"bytes":        len(normalized),
	})
}
