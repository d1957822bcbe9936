package channels

import "strings"

// ParseItemCommand recognizes the chat commands that select the item a
// conversation is about: "/item <id>", "/item" (clears) and the deep link
// "/start item_<id>". A bot mention suffix ("/item@shop_bot") is accepted.
func ParseItemCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	cmd := fields[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/item", "!item":
		if len(fields) > 1 {
			return fields[1], true
		}
		return "", true
	case "/start":
		if len(fields) > 1 && strings.HasPrefix(fields[1], "item_") {
			return strings.TrimPrefix(fields[1], "item_"), true
		}
	}
	return "", false
}
