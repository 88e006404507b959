package gmail

import (
	"bytes"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/platform"
)

type parsedMail struct {
	subject     string
	date        time.Time
	fromName    string
	fromAddress string
	meta        platform.EmailMeta
	body        string
	attachments []platform.Attachment
}

// parseMessage extracts the headers, preferred text body, and
// attachments from one RFC-822 message. Threading ids keep their raw
// bracketed wire form; the threading engine treats them as opaque
// strings, so any rewriting here would split existing threads.
func parseMessage(raw []byte) (*parsedMail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "parse message")
	}

	h := mr.Header
	pm := &parsedMail{}
	pm.subject, _ = h.Subject()
	pm.date, _ = h.Date()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		pm.fromName = from[0].Name
		pm.fromAddress = from[0].Address
	}

	pm.meta.MessageID = strings.TrimSpace(h.Get("Message-Id"))
	if toks := strings.Fields(h.Get("In-Reply-To")); len(toks) > 0 {
		pm.meta.InReplyTo = toks[0]
	}
	pm.meta.References = strings.Fields(h.Get("References"))
	pm.meta.Subject = pm.subject
	pm.meta.Participants = participants(h)

	var htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A truncated part still leaves the headers and earlier
			// parts usable.
			break
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			switch {
			case pm.body == "" && (ct == "text/plain" || ct == ""):
				if b, err := io.ReadAll(p.Body); err == nil {
					pm.body = strings.TrimRight(string(b), "\r\n")
				}
			case htmlBody == "" && ct == "text/html":
				if b, err := io.ReadAll(p.Body); err == nil {
					htmlBody = strings.TrimRight(string(b), "\r\n")
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			pm.attachments = append(pm.attachments, platform.Attachment{
				Filename:    filename,
				ContentType: ct,
				SizeBytes:   int64(len(data)),
				Data:        data,
			})
		}
	}

	if pm.body == "" {
		pm.body = htmlBody
	}
	return pm, nil
}

// participants collects the lowercased addresses on From, To, and Cc,
// first occurrence wins.
func participants(h mail.Header) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, key := range []string{"From", "To", "Cc"} {
		addrs, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			lower := strings.ToLower(addr.Address)
			if _, dup := seen[lower]; dup {
				continue
			}
			seen[lower] = struct{}{}
			out = append(out, lower)
		}
	}
	return out
}
