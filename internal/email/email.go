package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"rental-marketplace/internal/models"
	"rental-marketplace/internal/util"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names
const (
	TemplateNotification = "notification"
	TemplateInvoice      = "invoice"
)

// Message is a rendered email
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Data fills a template
type Data struct {
	RecipientName string
	Title         string
	Body          string
	ProductTitle  string
	Dates         string
	Invoice       *models.Invoice
}

// Sender delivers email
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var funcs = template.FuncMap{
	"money": FormatMoney,
}

var templates = map[string]*template.Template{
	TemplateNotification: mustParse(TemplateNotification),
	TemplateInvoice:      mustParse(TemplateInvoice),
}

func mustParse(name string) *template.Template {
	return template.Must(template.New("layout").Funcs(funcs).
		ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
}

// Render builds a message from a named template
func Render(name, to string, data Data) (Message, error) {
	tmpl, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{To: to, Subject: data.Title, HTML: buf.String()}, nil
}

// FormatMoney renders minor units, e.g. 123456 USD as "USD 1,234.56".
func FormatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := strconv.FormatInt(minor/100, 10)
	for i := len(whole) - 3; i > 0; i -= 3 {
		whole = whole[:i] + "," + whole[i:]
	}
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, whole, minor%100)
}

// SMTPSender sends through a plain SMTP relay, authenticating when a
// username is configured.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPSender{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		auth: auth,
		from: from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	_, span := util.StartSpan(ctx, "SMTPSender.Send")
	defer span.End()

	if err := smtp.SendMail(s.addr, s.auth, envelopeAddress(s.from), []string{msg.To}, s.build(msg)); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.NewReplacer("\r", "", "\n", "").Replace(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// envelopeAddress extracts the bare address from "Name <addr>".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	return from
}

// LogSender logs instead of sending. Used when email is disabled.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	util.GetLogger().Debug("Email suppressed",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}
