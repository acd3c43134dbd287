package cli

import (
	"github.com/spf13/cobra"

	"newsletter-engine/internal/adapters/dispatcher"
	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/usecase/dispatch"
)

func init() {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Очередь доставки",
	}

	stats := &cobra.Command{
		Use:   "stats <channel>",
		Short: "Сообщения по статусам и счётчик доставленных",
		Args:  cobra.ExactArgs(1),
		Run:   runQueueStats,
	}
	sweep := &cobra.Command{
		Use:   "sweep [channel]",
		Short: "Вернуть залежавшиеся сообщения в доставку (без канала — по всем)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runQueueSweep,
	}
	flush := &cobra.Command{
		Use:   "flush <channel>",
		Short: "Удалить доставленные и ошибочные сообщения канала",
		Args:  cobra.ExactArgs(1),
		Run:   runQueueFlush,
	}
	requeue := &cobra.Command{
		Use:   "requeue <message-id>",
		Short: "Вернуть сообщение в доставку независимо от статуса",
		Args:  cobra.ExactArgs(1),
		Run:   runQueueRequeue,
	}

	queueCmd.AddCommand(stats, sweep, flush, requeue)
	RootCmd.AddCommand(queueCmd)
}

// openDispatch собирает сервис доставки для разовых операций. Доставщик
// здесь не вызывается, поэтому подставляется журнальная заглушка; очередь
// нужна только командам, которые ставят задачи.
func openDispatch(cfg config.AppConfig, store storage, q domain.DispatchQueue) *dispatch.Service {
	return dispatch.NewService(store, q, dispatcher.NewLog(nopLog),
		cfg.Dispatch.RatePerSec, cfg.Dispatch.MaxAttempts, nopLog)
}

func runQueueStats(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	store, closeStore, err := openStorage(cfg)
	if err != nil {
		exitErr("открытие хранилища", err)
	}
	defer closeStore()

	ch, err := store.GetChannelByName(cmd.Context(), args[0])
	if err != nil {
		exitErr("поиск канала", err)
	}

	stats, err := openDispatch(cfg, store, nil).Stats(cmd.Context(), ch.ID)
	if err != nil {
		exitErr("статистика очереди", err)
	}
	printJSON(stats)
}

func runQueueSweep(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	store, closeStore, err := openStorage(cfg)
	if err != nil {
		exitErr("открытие хранилища", err)
	}
	defer closeStore()

	var channelID int64
	if len(args) > 0 {
		ch, err := store.GetChannelByName(cmd.Context(), args[0])
		if err != nil {
			exitErr("поиск канала", err)
		}
		channelID = ch.ID
	}

	dispatchQueue, closeQueue, err := openQueue(cfg)
	if err != nil {
		exitErr("открытие очереди", err)
	}
	defer closeQueue()

	queued, err := openDispatch(cfg, store, dispatchQueue).DispatchPending(cmd.Context(), channelID)
	if err != nil {
		exitErr("обход залежавшихся сообщений", err)
	}
	printJSON(map[string]int{"queued": queued})
}

func runQueueFlush(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	store, closeStore, err := openStorage(cfg)
	if err != nil {
		exitErr("открытие хранилища", err)
	}
	defer closeStore()

	ch, err := store.GetChannelByName(cmd.Context(), args[0])
	if err != nil {
		exitErr("поиск канала", err)
	}

	removed, err := openDispatch(cfg, store, nil).Flush(cmd.Context(), ch.ID)
	if err != nil {
		exitErr("очистка очереди", err)
	}
	printJSON(map[string]int64{"removed": removed})
}

func runQueueRequeue(cmd *cobra.Command, args []string) {
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

	if err := openDispatch(cfg, store, dispatchQueue).Requeue(cmd.Context(), args[0]); err != nil {
		exitErr("повтор сообщения", err)
	}
	printJSON(map[string]string{"status": "ok"})
}
