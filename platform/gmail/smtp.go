package gmail

import (
	"context"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/teranos/messagesd/errors"
)

const subjectPrefix = "Subject: "

// splitSubject peels an optional leading "Subject: ..." line off an
// outbound body.
func splitSubject(body string) (subject, text string) {
	if !strings.HasPrefix(body, subjectPrefix) {
		return "", body
	}
	line, rest, _ := strings.Cut(body, "\n")
	return strings.TrimSpace(strings.TrimPrefix(line, subjectPrefix)), rest
}

// Send delivers body to target over SMTP. A leading "Subject: ..."
// line becomes the subject; the rest is the plain-text body.
func (a *Adapter) Send(ctx context.Context, target, body string) error {
	if a.cfg.Address == "" || a.cfg.Password == "" {
		return errors.New("gmail credentials not configured")
	}

	subject, text := splitSubject(body)
	if subject == "" {
		subject = "(no subject)"
	}

	msg := gomail.NewMsg()
	if err := msg.From(a.cfg.Address); err != nil {
		return errors.Wrapf(err, "sender %q", a.cfg.Address)
	}
	if err := msg.To(target); err != nil {
		return errors.Wrapf(err, "recipient %q", target)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, text)

	cl, err := gomail.NewClient(a.cfg.SMTPHost,
		gomail.WithPort(a.cfg.SMTPPort),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(a.cfg.Address),
		gomail.WithPassword(a.cfg.Password),
		gomail.WithTLSPortPolicy(gomail.TLSMandatory))
	if err != nil {
		return errors.Wrap(err, "smtp client")
	}

	return errors.Wrapf(cl.DialAndSendWithContext(ctx, msg), "send mail to %s", target)
}
