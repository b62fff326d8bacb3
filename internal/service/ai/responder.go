package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/sppetrol/webchat/internal/config"
	"github.com/sppetrol/webchat/internal/logging"
)

const systemPrompt = "Siz yoqilg'i va neft mahsulotlari bo'yicha yordamchi botsiz. " +
	"Qisqa va aniq javob bering. Zarur bo'lsa savolga aniqlik kiriting. " +
	"Mavjud mahsulotlar: {products}. " +
	"Yetkazib berish 24/7, Toshkent ~2 soat, viloyat ~24 soat. Telefon: +998 90 123 45 67."

// Products is the short catalog the operator bot may mention.
var Products = []string{"AI-92", "AI-95", "Dizel", "Neft"}

// Responder answers visitor questions on behalf of the operator. With an Ark
// model configured it runs an eino chain; otherwise, or when the model fails,
// it falls back to keyword replies.
type Responder struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger zerolog.Logger
}

// NewResponder builds a responder. A disabled AI config yields a keyword-only
// responder rather than an error.
func NewResponder(ctx context.Context, cfg config.AIConfig) (*Responder, error) {
	r := &Responder{
		logger: logging.L().With().Str(logging.FieldComponent, "ai").Logger(),
	}
	if !cfg.Enabled() {
		return r, nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	r.chain = runnable
	return r, nil
}

// ModelEnabled reports whether replies go through the language model.
func (r *Responder) ModelEnabled() bool {
	return r.chain != nil
}

// Reply returns the operator answer for question. It never returns "".
func (r *Responder) Reply(ctx context.Context, question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return "Savolingizni kiriting, yordam beraman."
	}

	if r.chain != nil {
		resp, err := r.chain.Invoke(ctx, map[string]any{
			"products": strings.Join(Products, ", "),
			"query":    question,
		})
		if err != nil {
			r.logger.Warn().Err(err).Msg("model reply failed, using keyword reply")
		} else if resp != nil && strings.TrimSpace(resp.Content) != "" {
			return resp.Content
		}
	}

	return KeywordReply(question)
}

// KeywordReply answers common questions (price, delivery, hours, fuel types)
// without a model.
func KeywordReply(question string) string {
	m := strings.ToLower(question)

	switch {
	case containsAny(m, "narx", "price", "narxi", "qiymat"):
		return "Narxlar mahsulot turi va buyurtma hajmiga qarab belgilanadi. Aniqlashtirish uchun +998 90 123 45 67 raqamiga murojaat qiling yoki buyurtma tafsilotlarini yuboring."
	case containsAny(m, "yetkaz", "delivery", "yetkazib"):
		return "Toshkent bo'ylab ~2 soat, viloyatlar bo'ylab ~24 soatda yetkazib beramiz. 24/7 buyurtmalar qabul qilinadi."
	case containsAny(m, "ish vaqti", "ishlash vaqti", "24/7", "24x7"):
		return "Biz 24/7 ishlaymiz. Istalgan paytda murojaat qilishingiz mumkin."
	}

	if names := matchProducts(m); len(names) > 0 {
		return "Quyidagi mahsulotlar mos bo'lishi mumkin: " + strings.Join(names, ", ") + ". Batafsil uchun katalog bo'limidan tanlang yoki hajm/manzil yuboring."
	}

	return "Savolingizni aniqroq yozing (mahsulot turi, kerakli hajm, manzil). Yetkazib berish 24/7. Qo'shimcha ma'lumot: +998 90 123 45 67."
}

func matchProducts(m string) []string {
	switch {
	case strings.Contains(m, "dizel"):
		return []string{"Dizel"}
	case containsAny(m, "benzin", "ai", "95", "92"):
		return []string{"AI-92", "AI-95"}
	case strings.Contains(m, "neft"):
		return []string{"Neft"}
	}
	return nil
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
