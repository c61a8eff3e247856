package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/repository"
)

// Telegram Stars invoices use currency XTR and an empty provider token.
const (
	starsCurrency = "XTR"
	payloadPrefix = "pack:"
)

// invoiceAPI is the subset of *tgbotapi.BotAPI used for payments.
type invoiceAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type PaymentService struct {
	packs     *repository.PackRepository
	purchases *repository.PurchaseRepository
	api       invoiceAPI
	log       *slog.Logger
}

func NewPaymentService(packs *repository.PackRepository, purchases *repository.PurchaseRepository, api invoiceAPI, log *slog.Logger) *PaymentService {
	return &PaymentService{packs: packs, purchases: purchases, api: api, log: log}
}

// PaymentOutcome is the result of a successful_payment update.
type PaymentOutcome struct {
	Pack         *models.Pack
	CreditsAdded int
	Duplicate    bool
}

func (s *PaymentService) EnsureDefaultPacks(ctx context.Context) error {
	return s.packs.EnsureDefaults(ctx, models.DefaultPacks())
}

func (s *PaymentService) Packs(ctx context.Context) ([]models.Pack, error) {
	return s.packs.List(ctx, true)
}

func (s *PaymentService) Pack(ctx context.Context, code string) (*models.Pack, error) {
	pack, err := s.packs.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("get pack: %w", err)
	}
	if pack == nil || !pack.IsActive {
		return nil, ErrUnknownPack
	}
	return pack, nil
}

// SendInvoice posts a Stars invoice for the pack into the chat.
func (s *PaymentService) SendInvoice(ctx context.Context, chatID int64, code string) error {
	pack, err := s.Pack(ctx, code)
	if err != nil {
		return err
	}
	invoice := tgbotapi.NewInvoice(chatID,
		pack.Title,
		invoiceDescription(pack),
		payloadPrefix+pack.Code,
		"",
		pack.Code,
		starsCurrency,
		[]tgbotapi.LabeledPrice{{Label: pack.Title, Amount: pack.Stars}},
	)
	// A nil slice is encoded as null, which the Bot API rejects.
	invoice.SuggestedTipAmounts = []int{}
	if _, err := s.api.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

// CreateInvoiceLink returns a link the mini-app opens with Telegram.WebApp.openInvoice.
func (s *PaymentService) CreateInvoiceLink(ctx context.Context, code string) (string, *models.Pack, error) {
	pack, err := s.Pack(ctx, code)
	if err != nil {
		return "", nil, err
	}

	params := tgbotapi.Params{
		"title":          pack.Title,
		"description":    invoiceDescription(pack),
		"payload":        payloadPrefix + pack.Code,
		"provider_token": "",
		"currency":       starsCurrency,
	}
	if err := params.AddInterface("prices", []tgbotapi.LabeledPrice{{Label: pack.Title, Amount: pack.Stars}}); err != nil {
		return "", nil, fmt.Errorf("encode prices: %w", err)
	}

	resp, err := s.api.MakeRequest("createInvoiceLink", params)
	if err != nil {
		return "", nil, fmt.Errorf("create invoice link: %w", err)
	}
	var link string
	if err := json.Unmarshal(resp.Result, &link); err != nil || link == "" {
		return "", nil, fmt.Errorf("decode invoice link: %s", string(resp.Result))
	}
	return link, pack, nil
}

// HandlePreCheckout accepts queries for known packs and rejects the rest.
func (s *PaymentService) HandlePreCheckout(ctx context.Context, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: query.ID, OK: true}
	if _, err := s.Pack(ctx, packCode(query.InvoicePayload)); err != nil {
		response.OK = false
		response.ErrorMessage = "Пакет недоступен, попробуйте выбрать другой."
	}
	if _, err := s.api.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleSuccessfulPayment credits the pack once per Telegram charge id.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, userID int64, payment *tgbotapi.SuccessfulPayment) (*PaymentOutcome, error) {
	out := &PaymentOutcome{}
	if pack, err := s.Pack(ctx, packCode(payment.InvoicePayload)); err == nil {
		out.Pack = pack
		out.CreditsAdded = pack.Credits
	} else {
		s.log.Error("payment for unknown pack", "user_id", userID, "payload", payment.InvoicePayload)
	}

	record := &models.Purchase{
		UserID:           userID,
		Payload:          payment.InvoicePayload,
		Stars:            payment.TotalAmount,
		CreditsAdded:     out.CreditsAdded,
		TelegramChargeID: payment.TelegramPaymentChargeID,
	}
	recorded, err := s.purchases.Record(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}
	out.Duplicate = !recorded
	if out.Duplicate {
		out.CreditsAdded = 0
	}
	return out, nil
}

func packCode(payload string) string {
	if !strings.HasPrefix(payload, payloadPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(payload, payloadPrefix))
}

func invoiceDescription(pack *models.Pack) string {
	return fmt.Sprintf("%s. Начислим +%d генераций.", pack.Description, pack.Credits)
}
