package cli

import (
	"time"

	"github.com/spf13/cobra"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/usecase/channels"
)

type channelJSON struct {
	Name          string     `json:"name"`
	Title         string     `json:"title"`
	Collector     string     `json:"collector,omitempty"`
	Formats       []string   `json:"formats"`
	Scheduler     string     `json:"scheduler,omitempty"`
	Active        bool       `json:"active"`
	TriggeredLast *time.Time `json:"triggered_last,omitempty"`
}

func toChannelJSON(ch domain.Channel) channelJSON {
	out := channelJSON{
		Name:      ch.Name,
		Title:     ch.Title,
		Collector: ch.CollectorName,
		Formats:   ch.Formats,
		Scheduler: string(ch.SchedulerKind),
		Active:    ch.Active,
	}
	if !ch.TriggeredLast.IsZero() {
		t := ch.TriggeredLast
		out.TriggeredLast = &t
	}
	return out
}

func init() {
	channelCmd := &cobra.Command{
		Use:   "channel",
		Short: "Каналы рассылки",
	}

	register := &cobra.Command{
		Use:   "register <name>",
		Short: "Зарегистрировать канал",
		Args:  cobra.ExactArgs(1),
		Run:   runChannelRegister,
	}
	register.Flags().String("title", "", "Заголовок канала")
	register.Flags().String("collector", "", "Имя коллектора (terms, telegram)")
	register.Flags().String("formats", "plain", "Форматы через запятую (plain,html,telegram)")
	register.Flags().String("scheduler", "", "Расписание: daily, weekly или пусто")
	register.Flags().Bool("active", true, "Сразу включить канал в расписание")

	list := &cobra.Command{
		Use:   "list",
		Short: "Список каналов",
		Run:   runChannelList,
	}
	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Показать канал",
		Args:  cobra.ExactArgs(1),
		Run:   runChannelShow,
	}
	activate := &cobra.Command{
		Use:   "activate <name>",
		Short: "Включить канал в расписание",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { runChannelSetActive(cmd, args[0], true) },
	}
	deactivate := &cobra.Command{
		Use:   "deactivate <name>",
		Short: "Выключить канал из расписания",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { runChannelSetActive(cmd, args[0], false) },
	}

	channelCmd.AddCommand(register, list, show, activate, deactivate)
	RootCmd.AddCommand(channelCmd)
}

func openChannels(cfg config.AppConfig) (*channels.Service, func()) {
	store, closeStore, err := openStorage(cfg)
	if err != nil {
		exitErr("открытие хранилища", err)
	}
	collectors, composers := buildRegistries(cfg, store)
	return channels.NewService(store, collectors, composers, nopLog), closeStore
}

func runChannelRegister(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	svc, closeStore := openChannels(cfg)
	defer closeStore()

	title, _ := cmd.Flags().GetString("title")
	collectorName, _ := cmd.Flags().GetString("collector")
	formats, _ := cmd.Flags().GetString("formats")
	scheduler, _ := cmd.Flags().GetString("scheduler")
	active, _ := cmd.Flags().GetBool("active")

	created, err := svc.Register(cmd.Context(), domain.Channel{
		Name:          args[0],
		Title:         title,
		CollectorName: collectorName,
		Formats:       splitComma(formats),
		SchedulerKind: domain.SchedulerKind(scheduler),
		Active:        active,
	})
	if err != nil {
		exitErr("регистрация канала", err)
	}
	printJSON(toChannelJSON(created))
}

func runChannelList(cmd *cobra.Command, args []string) {
	svc, closeStore := openChannels(config.Load())
	defer closeStore()

	list, err := svc.List(cmd.Context())
	if err != nil {
		exitErr("список каналов", err)
	}
	out := make([]channelJSON, 0, len(list))
	for _, ch := range list {
		out = append(out, toChannelJSON(ch))
	}
	printJSON(out)
}

func runChannelShow(cmd *cobra.Command, args []string) {
	svc, closeStore := openChannels(config.Load())
	defer closeStore()

	ch, err := svc.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("поиск канала", err)
	}
	printJSON(toChannelJSON(ch))
}

func runChannelSetActive(cmd *cobra.Command, name string, active bool) {
	svc, closeStore := openChannels(config.Load())
	defer closeStore()

	if err := svc.SetActive(cmd.Context(), name, active); err != nil {
		exitErr("переключение канала", err)
	}
	printJSON(map[string]string{"status": "ok"})
}
