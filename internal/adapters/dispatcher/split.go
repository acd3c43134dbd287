package dispatcher

import "strings"

// Предел Telegram на длину одного сообщения, в рунах.
const messageLimit = 4096

// splitMessage режет текст на куски не длиннее messageLimit. Резать
// предпочитает по переводу строки, чтобы не рвать разметку внутри блока.
func splitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	rest := runes
	for len(rest) > 0 {
		if len(rest) <= messageLimit {
			if chunk := strings.Trim(string(rest), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		cut := messageLimit
		for i := messageLimit; i > 0; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}

		if chunk := strings.Trim(string(rest[:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		rest = rest[cut:]
		for len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}
