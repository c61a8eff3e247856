package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PromptStudioBot/internal/config"
	"github.com/digkill/PromptStudioBot/internal/gate"
	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/repository"
	"github.com/digkill/PromptStudioBot/internal/service"
)

// Telegram serves bot files up to 20 MB.
const maxDownloadBytes = 20 << 20

const sweepInterval = time.Minute

var errReferenceNotImage = errors.New("reference not image")

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	cfg        config.Config
	api        botAPI
	token      string
	log        *slog.Logger
	users      *service.UserService
	generation *service.GenerationService
	ledger     *service.Ledger
	payments   *service.PaymentService
	prompts    *service.PromptService
	referrals  *service.ReferralService
	gate       *gate.Checker
	state      *StateManager
	exec       *serialExecutor
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, generation *service.GenerationService, ledger *service.Ledger, payments *service.PaymentService, prompts *service.PromptService, referrals *service.ReferralService, checker *gate.Checker) *Bot {
	return newBot(cfg, api, api.Token, log, users, generation, ledger, payments, prompts, referrals, checker)
}

func newBot(cfg config.Config, api botAPI, token string, log *slog.Logger, users *service.UserService, generation *service.GenerationService, ledger *service.Ledger, payments *service.PaymentService, prompts *service.PromptService, referrals *service.ReferralService, checker *gate.Checker) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		token:      token,
		log:        log,
		users:      users,
		generation: generation,
		ledger:     ledger,
		payments:   payments,
		prompts:    prompts,
		referrals:  referrals,
		gate:       checker,
		state:      NewStateManager(cfg.StateTTL),
		exec:       newSerialExecutor(log),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Run receives updates until ctx is cancelled. Updates of one user are handled in order;
// different users are handled concurrently.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query", "channel_post"}

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				b.exec.Wait()
				return nil
			}
			upd := update
			b.exec.Submit(ctx, updateKey(&upd), func(ctx context.Context) {
				b.handleUpdate(ctx, &upd)
			})
		case <-sweep.C:
			if removed := b.state.Sweep(); removed > 0 {
				b.log.Debug("expired conversation states", "count", removed)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.exec.Wait()
			return ctx.Err()
		}
	}
}

// SendText delivers a plain message. It is used for admin broadcasts.
func (b *Bot) SendText(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func updateKey(update *tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	case update.PreCheckoutQuery != nil && update.PreCheckoutQuery.From != nil:
		return update.PreCheckoutQuery.From.ID
	case update.ChannelPost != nil && update.ChannelPost.Chat != nil:
		return update.ChannelPost.Chat.ID
	default:
		return 0
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.PreCheckoutQuery != nil:
		if err := b.payments.HandlePreCheckout(ctx, update.PreCheckoutQuery); err != nil {
			b.log.Error("pre-checkout failed", "err", err)
		}
	case update.ChannelPost != nil:
		b.handleChannelPost(ctx, update.ChannelPost)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}
	if len(msg.Photo) > 0 || msg.Document != nil {
		b.handlePhoto(ctx, msg)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.handleText(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "menu":
		b.showMenu(msg.Chat.ID)
	case "generate":
		b.beginSelection(ctx, msg.Chat.ID, msg.From.ID)
	case "balance":
		b.handleBalance(ctx, msg)
	case "paysupport":
		b.sendText(msg.Chat.ID, "💬 Поддержка по оплате\n\nЕсли у тебя списались Stars, а генерации не начислились — пришли скрин оплаты и свой @username. Мы разберёмся ✅")
	case "addcredits":
		b.handleAddCredits(ctx, msg)
	case "help":
		b.showHelp(msg.Chat.ID)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Открой меню: /start")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	out, err := b.users.Onboard(ctx, profileOf(msg.From), msg.CommandArguments())
	if err != nil {
		b.log.Error("onboard user", "user_id", msg.From.ID, "err", err)
		b.sendText(msg.Chat.ID, "Что-то пошло не так, попробуй /start ещё раз 🙈")
		return
	}
	if out.ReferralGranted {
		b.sendText(out.ReferrerID, fmt.Sprintf("🎁 Новый подписчик по твоей ссылке! +%d генерац(ии) добавлено ✅", b.referrals.Bonus()))
	}

	if !b.checkGate(ctx, msg.Chat.ID, msg.From.ID) {
		return
	}

	name := msg.From.FirstName
	if name == "" {
		name = "друг"
	}
	greeting := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
		"Привет, %s 🤍\n\nЗдесь ты можешь:\n• генерировать Nano Banana и Freepik\n• получать промты из канала\n• покупать генерации за Stars\n\nНа балансе: <b>%d</b> генераций.",
		html.EscapeString(name), out.User.Credits,
	))
	greeting.ParseMode = tgbotapi.ModeHTML
	b.send(greeting)
	b.showMenu(msg.Chat.ID)
}

func (b *Bot) handleBalance(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.users.Ensure(ctx, profileOf(msg.From))
	if err != nil {
		b.log.Error("ensure user", "user_id", msg.From.ID, "err", err)
		b.sendText(msg.Chat.ID, "Не удалось получить баланс, попробуй позже.")
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("На балансе: %d генераций.", user.Credits))
}

func (b *Bot) handleAddCredits(ctx context.Context, msg *tgbotapi.Message) {
	if b.cfg.OwnerID == 0 || msg.From.ID != b.cfg.OwnerID {
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.sendText(msg.Chat.ID, "Использование: /addcredits <userId> <amount>")
		return
	}
	userID, err1 := strconv.ParseInt(args[0], 10, 64)
	amount, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || userID <= 0 || amount <= 0 {
		b.sendText(msg.Chat.ID, "Использование: /addcredits <userId> <amount>")
		return
	}
	if err := b.ledger.AddCredits(ctx, userID, amount); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			b.sendText(msg.Chat.ID, "Пользователь не найден.")
			return
		}
		b.log.Error("add credits", "user_id", userID, "amount", amount, "err", err)
		b.sendText(msg.Chat.ID, "Не удалось начислить генерации.")
		return
	}
	b.log.Info("owner added credits", "user_id", userID, "amount", amount)
	b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Добавила %d генераций пользователю %d", amount, userID))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("answer callback", "err", err)
	}
	if cb.From == nil || cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID
	data := cb.Data

	switch {
	case data == cbGateCheck:
		if b.gate.Check(ctx, userID) == gate.Denied {
			b.sendWithMarkup(chatID, "Пока не вижу подписку 😌 Подпишись и нажми ещё раз.", b.gateKeyboard())
			return
		}
		b.showMenu(chatID)
	case data == cbBackMenu:
		b.showMenu(chatID)
	case data == cbMenuGen:
		b.beginSelection(ctx, chatID, userID)
	case strings.HasPrefix(data, cbEnginePrefix):
		b.selectEngine(ctx, chatID, cb.From, strings.TrimPrefix(data, cbEnginePrefix))
	case data == cbMenuPrompts:
		b.showPrompts(ctx, chatID)
	case strings.HasPrefix(data, cbUsePromptPrefix):
		b.usePrompt(ctx, chatID, userID, strings.TrimPrefix(data, cbUsePromptPrefix))
	case data == cbMenuProfile:
		b.showProfile(ctx, chatID, cb.From)
	case data == cbMenuShare:
		b.sendWithMarkup(chatID, "Поделиться ботом и каналом:", b.shareKeyboard(userID))
	case data == cbMenuHelp:
		b.showHelp(chatID)
	case data == cbMenuBuy:
		b.showPacks(ctx, chatID, cb.From)
	case strings.HasPrefix(data, cbBuyPrefix):
		b.buyPack(ctx, chatID, cb.From, strings.TrimPrefix(data, cbBuyPrefix))
	default:
		b.log.Debug("unknown callback", "data", data)
	}
}

func (b *Bot) beginSelection(ctx context.Context, chatID, userID int64) {
	if !b.checkGate(ctx, chatID, userID) {
		return
	}
	b.state.BeginSelection(userID)
	b.sendWithMarkup(chatID, "Выбери движок генерации:", engineKeyboard())
}

func (b *Bot) selectEngine(ctx context.Context, chatID int64, from *tgbotapi.User, alias string) {
	engine, ok := models.ParseEngine(alias)
	if !ok {
		b.sendText(chatID, "Такого движка нет 🙈")
		return
	}
	if !b.checkGate(ctx, chatID, from.ID) {
		return
	}
	if _, _, err := b.users.Ensure(ctx, profileOf(from)); err != nil {
		b.log.Error("ensure user", "user_id", from.ID, "err", err)
	}

	stage, ok := b.state.SelectEngine(from.ID, engine)
	if !ok {
		// The keyboard outlived its selection; open a fresh one.
		b.state.BeginSelection(from.ID)
		b.sendWithMarkup(chatID, "Выбор устарел, выбери движок ещё раз:", engineKeyboard())
		return
	}
	if stage == StageAwaitingPhoto {
		b.sendText(chatID, "Отправь фото (картинку), а следующим сообщением — промт (что сделать с фото).")
		return
	}
	b.sendText(chatID, fmt.Sprintf("Ок ✅\nНапиши промт для: %s", engine.Title()))
}

func (b *Bot) showPrompts(ctx context.Context, chatID int64) {
	items, err := b.prompts.List(ctx, 10)
	if err != nil {
		b.log.Error("list prompts", "err", err)
		b.sendText(chatID, "Не удалось загрузить промты, попробуй позже.")
		return
	}
	if len(items) == 0 {
		b.sendText(chatID, "Пока нет промтов. Добавь пост в канал и я подхвачу ✅")
		return
	}

	parts := make([]string, 0, len(items))
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, p := range items {
		title := p.Title
		if title == "" {
			title = "Промт"
		}
		parts = append(parts, fmt.Sprintf("#%d — %s\n%s", p.ID, title, truncateRunes(p.Text, 220)))
		if i < 5 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Использовать #%d", p.ID), fmt.Sprintf("%s%d", cbUsePromptPrefix, p.ID)),
			))
		}
	}
	rows = append(rows, backRow())
	b.sendWithMarkup(chatID, "📚 Свежие промты:\n\n"+strings.Join(parts, "\n\n"), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) usePrompt(ctx context.Context, chatID, userID int64, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return
	}
	if !b.checkGate(ctx, chatID, userID) {
		return
	}
	prompt, err := b.prompts.Get(ctx, id)
	if err != nil {
		b.log.Error("get prompt", "prompt_id", id, "err", err)
	}
	if prompt == nil {
		b.sendText(chatID, "Не нашла этот промт 🙈")
		return
	}
	b.state.UsePreset(userID, prompt.Text)
	b.sendText(chatID, fmt.Sprintf("Ок ✅ Напиши “%s” чтобы сгенерировать по этому промту, или напиши свой промт текстом.", AffirmationToken))
}

func (b *Bot) showProfile(ctx context.Context, chatID int64, from *tgbotapi.User) {
	if !b.checkGate(ctx, chatID, from.ID) {
		return
	}
	user, _, err := b.users.Ensure(ctx, profileOf(from))
	if err != nil {
		b.log.Error("ensure user", "user_id", from.ID, "err", err)
		b.sendText(chatID, "Не удалось загрузить профиль, попробуй позже.")
		return
	}
	invited, err := b.referrals.Count(ctx, user.ID)
	if err != nil {
		b.log.Warn("count referrals", "user_id", user.ID, "err", err)
	}

	username := user.Username
	if username == "" {
		username = "без_ника"
	}
	var sb strings.Builder
	sb.WriteString("<b>👤 Профиль</b>\n\n")
	fmt.Fprintf(&sb, "• ID: <code>%d</code>\n", user.ID)
	fmt.Fprintf(&sb, "• Username: @%s\n", html.EscapeString(username))
	fmt.Fprintf(&sb, "• Генерации: <b>%d</b>\n", user.Credits)
	fmt.Fprintf(&sb, "• Потрачено Stars: <b>%d</b>\n", user.TotalSpentStars)
	fmt.Fprintf(&sb, "• Приглашено друзей: <b>%d</b>\n", invited)
	if user.LastResultURL != "" {
		fmt.Fprintf(&sb, "\nПоследний результат: %s\n", html.EscapeString(user.LastResultURL))
	}
	if link := b.referrals.Link(user.ID); link != "" {
		fmt.Fprintf(&sb, "\n<b>🔗 Твоя ссылка для друзей</b>\n%s", html.EscapeString(link))
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = b.profileKeyboard()
	b.send(msg)
}

func (b *Bot) showHelp(chatID int64) {
	msg := tgbotapi.NewMessage(chatID,
		"<b>🆘 Поддержка</b>\n\n"+
			"• Nano Banana: Gemini Image API\n"+
			"• Freepik: Mystic + Seedream Edit\n"+
			"• Оплата: Telegram Stars\n\n"+
			"Проблемы с оплатой: /paysupport")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(backRow())
	b.send(msg)
}

func (b *Bot) showPacks(ctx context.Context, chatID int64, from *tgbotapi.User) {
	if !b.checkGate(ctx, chatID, from.ID) {
		return
	}
	if _, _, err := b.users.Ensure(ctx, profileOf(from)); err != nil {
		b.log.Error("ensure user", "user_id", from.ID, "err", err)
	}
	packs, err := b.payments.Packs(ctx)
	if err != nil {
		b.log.Error("list packs", "err", err)
		b.sendText(chatID, "Не удалось загрузить пакеты, попробуй позже.")
		return
	}
	b.sendWithMarkup(chatID, "💫 Покупка генераций за Telegram Stars\n\nВыбери пакет:", b.buyKeyboard(packs))
}

func (b *Bot) buyPack(ctx context.Context, chatID int64, from *tgbotapi.User, code string) {
	if !b.checkGate(ctx, chatID, from.ID) {
		return
	}
	if _, _, err := b.users.Ensure(ctx, profileOf(from)); err != nil {
		b.log.Error("ensure user", "user_id", from.ID, "err", err)
	}
	if err := b.payments.SendInvoice(ctx, chatID, code); err != nil {
		if errors.Is(err, service.ErrUnknownPack) {
			b.sendText(chatID, "Пакет не найден 🙈")
			return
		}
		b.log.Error("send invoice", "user_id", from.ID, "pack", code, "err", err)
		b.sendText(chatID, "Не удалось выставить счёт, попробуй позже.")
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	if _, _, err := b.users.Ensure(ctx, profileOf(msg.From)); err != nil {
		b.log.Error("ensure user payment", "user_id", msg.From.ID, "err", err)
	}
	out, err := b.payments.HandleSuccessfulPayment(ctx, msg.From.ID, msg.SuccessfulPayment)
	if err != nil {
		b.log.Error("successful payment", "user_id", msg.From.ID, "charge_id", msg.SuccessfulPayment.TelegramPaymentChargeID, "err", err)
		b.sendText(msg.Chat.ID, "Оплата прошла, но я не смогла начислить генерации автоматически 🙈 Напиши /paysupport")
		return
	}
	if out.Duplicate {
		b.sendText(msg.Chat.ID, "Этот платёж уже зачислен ✅")
		return
	}
	b.log.Info("payment credited", "user_id", msg.From.ID, "credits", out.CreditsAdded, "stars", msg.SuccessfulPayment.TotalAmount)
	b.sendWithMarkup(msg.Chat.ID, fmt.Sprintf("✅ Оплата прошла!\nНачислила: +%d генераций\nБаланс обновлён 🔥", out.CreditsAdded), b.mainKeyboard())
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	if !b.state.AcceptsPhoto(userID) {
		return
	}
	if !b.checkGate(ctx, msg.Chat.ID, userID) {
		return
	}

	fileID := ""
	if len(msg.Photo) > 0 {
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	} else if msg.Document != nil {
		if !strings.HasPrefix(msg.Document.MimeType, "image/") {
			b.sendText(msg.Chat.ID, "Это не изображение. Пришли фото или картинку.")
			return
		}
		fileID = msg.Document.FileID
	}

	data, mime, err := b.downloadFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, errReferenceNotImage) {
			b.sendText(msg.Chat.ID, "Это не изображение. Пришли фото или картинку.")
			return
		}
		b.log.Error("download photo", "user_id", userID, "err", err)
		b.state.Clear(userID)
		b.sendText(msg.Chat.ID, "Не смогла скачать фото 🙈 Попробуй ещё раз.")
		return
	}
	if !b.state.AttachPhoto(userID, data, mime) {
		return
	}
	b.sendText(msg.Chat.ID, "Фото получила ✅\nТеперь напиши промт: что сделать с этим фото?")
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	switch b.state.Get(userID).Stage {
	case StageIdle:
		b.sendText(msg.Chat.ID, "Открой меню и выбери «🎨 Генерация»: /start")
		return
	case StageChoosingEngine:
		b.sendText(msg.Chat.ID, "Сначала выбери движок кнопкой выше 👆")
		return
	case StageAwaitingPhoto:
		b.sendText(msg.Chat.ID, "Сначала пришли фото 📷")
		return
	}

	if !b.checkGate(ctx, msg.Chat.ID, userID) {
		return
	}
	job, ok := b.state.ConsumePrompt(userID, msg.Text)
	if !ok {
		b.sendText(msg.Chat.ID, "Напиши промт текстом ✍️")
		return
	}
	if _, _, err := b.users.Ensure(ctx, profileOf(msg.From)); err != nil {
		b.log.Error("ensure user", "user_id", userID, "err", err)
	}

	b.sendText(msg.Chat.ID, "Запускаю генерацию… ⏳")
	result, err := b.generation.Dispatch(ctx, service.GenerationRequest{
		UserID:      userID,
		Engine:      job.Engine,
		Prompt:      job.Prompt,
		AspectRatio: job.AspectRatio,
		Image:       job.Image,
		ImageMime:   job.ImageMime,
	})
	if err != nil {
		b.reportGenerationError(ctx, msg.Chat.ID, err)
		return
	}
	b.deliverImage(msg.Chat.ID, result)
}

func (b *Bot) reportGenerationError(ctx context.Context, chatID int64, err error) {
	var validation *service.ValidationError
	var genErr *service.GenerationError
	switch {
	case errors.Is(err, service.ErrInsufficientBalance):
		packs, listErr := b.payments.Packs(ctx)
		if listErr != nil {
			b.log.Error("list packs", "err", listErr)
		}
		b.sendWithMarkup(chatID, "На балансе нет генераций 😌\n\nПополнить можно за Stars:", b.buyKeyboard(packs))
	case errors.As(err, &validation):
		b.sendText(chatID, validationText(validation))
	case errors.As(err, &genErr):
		b.sendText(chatID, generationErrorText(genErr))
	default:
		b.log.Error("dispatch generation", "err", err)
		b.sendText(chatID, "Не получилось запустить генерацию, попробуй позже.")
	}
}

func validationText(err *service.ValidationError) string {
	switch err.Reason {
	case service.ReasonPromptRequired:
		return "Промт пустой 😅"
	case service.ReasonImageRequired:
		return "Для этого движка нужно фото. Начни заново: /generate"
	default:
		return "Такого движка нет 🙈 Начни заново: /generate"
	}
}

func generationErrorText(err *service.GenerationError) string {
	refund := "Генерации вернула на баланс ✅"
	if !err.Refunded {
		refund = "Вернуть генерации автоматически не вышло, напиши /paysupport"
	}
	if errors.Is(err, service.ErrStillInProgress) {
		return "Генерация ещё идёт, а я не дождалась результата ⏳\n" + refund
	}
	return "Ошибка генерации 😢 Попробуй другой промт.\n" + refund
}

func (b *Bot) deliverImage(chatID int64, result *service.GenerationResult) {
	caption := fmt.Sprintf("%s %s готово ✅", engineIcon(result.Engine), result.Engine.Title())

	var file tgbotapi.RequestFileData
	if result.Artifact != nil && len(result.Artifact.Data) > 0 {
		file = tgbotapi.FileBytes{Name: "result" + extensionFor(result.Artifact.MimeType), Bytes: result.Artifact.Data}
	} else {
		file = tgbotapi.FileURL(result.URL)
	}
	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send photo", "chat_id", chatID, "err", err)
		b.sendText(chatID, caption+"\n"+result.URL)
	}
}

func (b *Bot) handleChannelPost(ctx context.Context, post *tgbotapi.Message) {
	channel := strings.TrimPrefix(b.cfg.ChannelUsername, "@")
	if channel == "" || post.Chat == nil || !strings.EqualFold(post.Chat.UserName, channel) {
		return
	}
	text := post.Text
	if text == "" {
		text = post.Caption
	}
	prompt, err := b.prompts.IngestChannelPost(ctx, text, int64(post.MessageID))
	if err != nil {
		b.log.Error("ingest channel post", "message_id", post.MessageID, "err", err)
		return
	}
	if prompt != nil {
		b.log.Info("prompt ingested", "prompt_id", prompt.ID, "message_id", post.MessageID)
	}
}

// checkGate reports whether the user may continue. A denied user loses any pending flow.
func (b *Bot) checkGate(ctx context.Context, chatID, userID int64) bool {
	if b.gate.Check(ctx, userID).Permits() {
		return true
	}
	b.state.Clear(userID)
	b.showGate(chatID)
	return false
}

func (b *Bot) showGate(chatID int64) {
	b.sendWithMarkup(chatID,
		fmt.Sprintf("Чтобы пользоваться ботом, подпишись на канал: %s\n\nПосле подписки нажми «Проверить подписку».", b.cfg.ChannelUsername),
		b.gateKeyboard())
}

func (b *Bot) showMenu(chatID int64) {
	b.sendWithMarkup(chatID, "Готово ✅\n\nВыбирай, что делаем:", b.mainKeyboard())
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func profileOf(from *tgbotapi.User) models.Profile {
	return models.Profile{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendWithMarkup(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "chat_id", msg.ChatID, "err", err)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errReferenceNotImage
	}
}
