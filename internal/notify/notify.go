// Package notify sends build-outcome and installation emails over
// SMTP via gopkg.in/mail.v2, replacing inau-dispatcher.py's __sendEmail
// (stdlib smtplib) and inau.py's equivalent. The teacher repo has no
// email code to ground style on, so this follows gravitational-teleport's
// go.mod choice of gopkg.in/mail.v2 for the concern and keeps the
// original's recipient-set construction: notify-opted-in users
// intersected with a job's explicit recipient list, or the full admin
// set for operational alerts.
package notify

import (
	"fmt"

	"gopkg.in/mail.v2"

	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/pkg/logger"
)

type Config struct {
	Host   string
	Port   int
	Sender string // local part; mail goes out as sender@domain
	Domain string
}

// Notifier sends mail and never propagates a send failure to the
// caller — spec.md treats notification as best-effort, so a dead SMTP
// relay must not fail a build or an installation.
type Notifier struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Notifier {
	return &Notifier{cfg: cfg, log: log}
}

func (n *Notifier) address(localPart string) string {
	return fmt.Sprintf("%s@%s", localPart, n.cfg.Domain)
}

// send dials the configured relay and delivers one message, swallowing
// (and logging) any error, mirroring inau-dispatcher.py's sendEmail
// never aborting the build worker over a mail failure.
func (n *Notifier) send(to []string, subject, body string) {
	if len(to) == 0 || n.cfg.Host == "" {
		return
	}
	m := mail.NewMessage()
	m.SetHeader("From", n.address(n.cfg.Sender))
	m.SetHeader("To", to...)
	m.SetHeader("Subject", "INAU. "+subject)
	m.SetBody("text/plain", body)

	dialer := mail.NewDialer(n.cfg.Host, n.cfg.Port, "", "")
	if err := dialer.DialAndSend(m); err != nil {
		n.log.Error("send notification email", err)
	}
}

// BuildOutcome notifies the intersection of a job's explicit recipients
// (the commit author / webhook trigger user) with the notify-opted-in
// catalog users about a finished build, matching sendEmail's
// set-intersection semantics in inau-dispatcher.py.
func (n *Notifier) BuildOutcome(users []catalog.User, explicit []string, subject, body string) {
	optedIn := make(map[string]bool, len(users))
	for _, u := range users {
		if u.Notify {
			optedIn[n.address(u.Name)] = true
		}
	}
	var to []string
	for _, e := range explicit {
		if optedIn[e] {
			to = append(to, e)
		}
	}
	n.send(to, subject, body)
}

// Admins notifies every admin user, used for operational alerts (e.g.
// a Builder Pool reconciliation failure) rather than per-build outcomes.
func (n *Notifier) Admins(admins []catalog.User, subject, body string) {
	var to []string
	for _, u := range admins {
		if u.Admin {
			to = append(to, n.address(u.Name))
		}
	}
	n.send(to, subject, body)
}
