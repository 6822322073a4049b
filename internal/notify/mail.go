package notify

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host, _, err := net.SplitHostPort(m.cfg.Addr)
		if err != nil {
			return fmt.Errorf("parse smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	if err := smtp.SendMail(m.cfg.Addr, auth, m.cfg.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

var supportedLocales = []language.Tag{language.English, language.French, language.Arabic}

func init() {
	for _, e := range []struct {
		tag          language.Tag
		key, message string
	}{
		{language.French, "Your order %s is confirmed", "Votre commande %s est confirmée"},
		{language.Arabic, "Your order %s is confirmed", "تم تأكيد طلبك %s"},
		{language.French, "Hello %s,", "Bonjour %s,"},
		{language.Arabic, "Hello %s,", "مرحبا %s،"},
		{language.French, "Thank you for your order. Here is a summary:", "Merci pour votre commande. Voici le récapitulatif :"},
		{language.Arabic, "Thank you for your order. Here is a summary:", "شكرا لطلبك. إليك الملخص:"},
		{language.French, "Subtotal", "Sous-total"},
		{language.Arabic, "Subtotal", "المجموع الفرعي"},
		{language.French, "Discount", "Remise"},
		{language.Arabic, "Discount", "الخصم"},
		{language.French, "Shipping", "Livraison"},
		{language.Arabic, "Shipping", "الشحن"},
		{language.French, "Tax", "TVA"},
		{language.Arabic, "Tax", "الضريبة"},
		{language.French, "Total", "Total"},
		{language.Arabic, "Total", "المجموع"},
	} {
		_ = message.SetString(e.tag, e.key, e.message)
	}
}

// RenderConfirmation builds the customer email for c in the order's locale.
func RenderConfirmation(c Confirmation, currencyCode string) (Message, error) {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return Message{}, fmt.Errorf("parse currency %q: %w", currencyCode, err)
	}

	tag, _ := language.MatchStrings(language.NewMatcher(supportedLocales), c.Order.Locale)
	p := message.NewPrinter(tag)

	amount := func(d decimal.Decimal) string {
		return p.Sprint(currency.Symbol(unit.Amount(d.InexactFloat64())))
	}

	name := c.CustomerName
	if name == "" {
		name = c.Order.CustomerName()
	}

	var b strings.Builder
	b.WriteString(p.Sprintf("Hello %s,", name))
	b.WriteString("\n\n")
	b.WriteString(p.Sprintf("Thank you for your order. Here is a summary:"))
	b.WriteString("\n\n")

	for _, item := range c.Items {
		fmt.Fprintf(&b, "%s x%d  %s\n", localizedName(item.ProductName, item.ProductNameFr, item.ProductNameAr, tag),
			item.Quantity, amount(item.Subtotal))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s: %s\n", p.Sprintf("Subtotal"), amount(c.Order.Subtotal))
	if c.Order.Discount.IsPositive() {
		fmt.Fprintf(&b, "%s: -%s\n", p.Sprintf("Discount"), amount(c.Order.Discount))
	}
	fmt.Fprintf(&b, "%s: %s\n", p.Sprintf("Shipping"), amount(c.Order.ShippingCost))
	fmt.Fprintf(&b, "%s: %s\n", p.Sprintf("Tax"), amount(c.Order.Tax))
	fmt.Fprintf(&b, "%s: %s\n", p.Sprintf("Total"), amount(c.Order.Total))

	return Message{
		To:      c.Order.Email,
		Subject: p.Sprintf("Your order %s is confirmed", c.Order.OrderNumber),
		Body:    b.String(),
	}, nil
}

func localizedName(en, fr, ar string, tag language.Tag) string {
	base, _ := tag.Base()
	switch base.String() {
	case "fr":
		if fr != "" {
			return fr
		}
	case "ar":
		if ar != "" {
			return ar
		}
	}
	return en
}
