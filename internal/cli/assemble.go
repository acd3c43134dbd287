package cli

import (
	"github.com/spf13/cobra"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/usecase/assemble"
)

func init() {
	cmd := &cobra.Command{
		Use:   "assemble <channel>",
		Short: "Собрать канал вне расписания",
		Long:  "Запускает один проход сборки канала и ставит сообщения в очередь доставки. Отметка расписания не трогается.",
		Args:  cobra.ExactArgs(1),
		Run:   runAssemble,
	}
	RootCmd.AddCommand(cmd)
}

func runAssemble(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	store, closeStore, err := openStorage(cfg)
	if err != nil {
		exitErr("открытие хранилища", err)
	}
	defer closeStore()

	dispatchQueue, closeQueue, err := openQueue(cfg)
	if err != nil {
		exitErr("открытие очереди", err)
	}
	defer closeQueue()

	collectors, composers := buildRegistries(cfg, store)
	svc := assemble.NewService(store, store, store, dispatchQueue, collectors, composers, nopLog)

	report, err := svc.AssembleByName(cmd.Context(), args[0], domain.DispatchCauseManual)
	if err != nil {
		exitErr("сборка канала", err)
	}
	printJSON(struct {
		Channel    string `json:"channel"`
		Rendered   int    `json:"rendered"`
		Suppressed int    `json:"suppressed"`
		Pending    int    `json:"pending"`
	}{
		Channel:    args[0],
		Rendered:   report.Rendered,
		Suppressed: report.Suppressed,
		Pending:    report.Pending,
	})
}
