package collector

// Options настраивают коллектор без его пересоздания. FieldTitle
// переопределяет подпись поля выбора в форме подписки, FilteredItems сужает
// предлагаемый словарь тем, Sources задаёт источники Telegram-коллектора.
type Options struct {
	FieldTitle    string
	FilteredItems []string
	Sources       []string
}
