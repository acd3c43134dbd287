package cli

import (
	"github.com/spf13/cobra"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/usecase/subscribe"
)

type subscriptionJSON struct {
	Secret    string   `json:"secret"`
	ChannelID int64    `json:"channel_id"`
	Address   string   `json:"address"`
	Format    string   `json:"format"`
	Pending   bool     `json:"pending"`
	Selection []string `json:"selection,omitempty"`
}

func toSubscriptionJSON(sub domain.Subscription) subscriptionJSON {
	return subscriptionJSON{
		Secret:    sub.Secret,
		ChannelID: sub.ChannelID,
		Address:   sub.Address,
		Format:    sub.Format,
		Pending:   sub.Pending,
		Selection: sub.Selection,
	}
}

func init() {
	subCmd := &cobra.Command{
		Use:   "sub",
		Short: "Подписки",
	}

	add := &cobra.Command{
		Use:   "add <channel>",
		Short: "Оформить подписку (останется в ожидании подтверждения)",
		Args:  cobra.ExactArgs(1),
		Run:   runSubAdd,
	}
	add.Flags().String("address", "", "Адресат доставки")
	add.Flags().String("format", "plain", "Формат сообщений")
	add.Flags().String("select", "", "Выбор интересов через запятую")
	_ = add.MarkFlagRequired("address")

	confirm := &cobra.Command{
		Use:   "confirm <secret>",
		Short: "Подтвердить подписку по секрету",
		Args:  cobra.ExactArgs(1),
		Run:   runSubConfirm,
	}
	cancel := &cobra.Command{
		Use:   "cancel <secret>",
		Short: "Удалить подписку по секрету",
		Args:  cobra.ExactArgs(1),
		Run:   runSubCancel,
	}
	show := &cobra.Command{
		Use:   "show <secret>",
		Short: "Показать подписку по секрету",
		Args:  cobra.ExactArgs(1),
		Run:   runSubShow,
	}

	subCmd.AddCommand(add, confirm, cancel, show)
	RootCmd.AddCommand(subCmd)
}

func openSubscribe(cfg config.AppConfig) (*subscribe.Service, func()) {
	store, closeStore, err := openStorage(cfg)
	if err != nil {
		exitErr("открытие хранилища", err)
	}
	collectors, _ := buildRegistries(cfg, store)
	return subscribe.NewService(store, store, collectors, nopLog), closeStore
}

func runSubAdd(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	svc, closeStore := openSubscribe(cfg)
	defer closeStore()

	address, _ := cmd.Flags().GetString("address")
	format, _ := cmd.Flags().GetString("format")
	selection, _ := cmd.Flags().GetString("select")

	created, err := svc.Subscribe(cmd.Context(), args[0], address, format, splitComma(selection))
	if err != nil {
		exitErr("оформление подписки", err)
	}
	printJSON(toSubscriptionJSON(created))
}

func runSubConfirm(cmd *cobra.Command, args []string) {
	svc, closeStore := openSubscribe(config.Load())
	defer closeStore()

	sub, err := svc.Confirm(cmd.Context(), args[0])
	if err != nil {
		exitErr("подтверждение подписки", err)
	}
	printJSON(toSubscriptionJSON(sub))
}

func runSubCancel(cmd *cobra.Command, args []string) {
	svc, closeStore := openSubscribe(config.Load())
	defer closeStore()

	if err := svc.Cancel(cmd.Context(), args[0]); err != nil {
		exitErr("удаление подписки", err)
	}
	printJSON(map[string]string{"status": "ok"})
}

func runSubShow(cmd *cobra.Command, args []string) {
	svc, closeStore := openSubscribe(config.Load())
	defer closeStore()

	sub, err := svc.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("поиск подписки", err)
	}
	printJSON(toSubscriptionJSON(sub))
}
