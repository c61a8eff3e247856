package telegram

import (
	"fmt"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PromptStudioBot/internal/models"
)

// Callback data understood by handleCallback.
const (
	cbGateCheck   = "gate_check"
	cbBackMenu    = "back_menu"
	cbMenuGen     = "menu_gen"
	cbMenuPrompts = "menu_prompts"
	cbMenuProfile = "menu_profile"
	cbMenuShare   = "menu_share"
	cbMenuHelp    = "menu_help"
	cbMenuBuy     = "menu_buy"

	cbEnginePrefix    = "engine:"
	cbUsePromptPrefix = "use_prompt:"
	cbBuyPrefix       = "buy:"
)

// engineAliases are the short ids carried in engine callbacks.
var engineAliases = map[models.Engine]string{
	models.EngineNanoBanana: "nano",
	models.EngineMystic:     "mystic",
	models.EngineSeedream:   "seedream",
}

func backRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", cbBackMenu))
}

func (b *Bot) mainKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if link := b.cfg.MiniAppURL(); link != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🌟 Открыть Mini App", link)))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎨 Генерация", cbMenuGen),
			tgbotapi.NewInlineKeyboardButtonData("📚 Промты", cbMenuPrompts),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👤 Профиль", cbMenuProfile),
			tgbotapi.NewInlineKeyboardButtonData("💫 Купить Stars", cbMenuBuy),
		),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔗 Поделиться", cbMenuShare)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🆘 Поддержка", cbMenuHelp)),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) gateKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if link := b.cfg.ChannelLink(); link != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("📣 Подписаться", link)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Проверить подписку", cbGateCheck)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func engineKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, info := range models.Engines() {
		label := fmt.Sprintf("%s %s · %d ген.", engineIcon(info.ID), info.Title, info.Cost)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbEnginePrefix+engineAliases[info.ID]),
		))
	}
	rows = append(rows, backRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) buyKeyboard(packs []models.Pack) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range packs {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s — %d⭐️", p.Title, p.Stars), cbBuyPrefix+p.Code),
		))
	}
	rows = append(rows, backRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) shareKeyboard(userID int64) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if link := b.referrals.Link(userID); link != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("🔗 Поделиться ботом", shareURL(link, "Держи моего AI-бота 🔥")),
		))
	}
	if channel := b.cfg.ChannelLink(); channel != "" {
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("📣 Поделиться каналом", shareURL(channel, "Подпишись на канал — там все промты и гайды 🤍"))),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🧡 Открыть канал", channel)),
		)
	}
	rows = append(rows, backRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) profileKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💫 Купить генерации", cbMenuBuy)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔗 Поделиться", cbMenuShare)),
	}
	if link := b.cfg.MiniAppURL(); link != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🌟 Mini App", link)))
	}
	rows = append(rows, backRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func shareURL(link, text string) string {
	return "https://t.me/share/url?url=" + url.QueryEscape(link) + "&text=" + url.QueryEscape(text)
}

func engineIcon(engine models.Engine) string {
	switch engine {
	case models.EngineNanoBanana:
		return "🍌"
	case models.EngineMystic:
		return "✨"
	default:
		return "🖼"
	}
}
