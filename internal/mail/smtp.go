package mail

import (
	"fmt"
	"net/smtp"
)

// SMTPConfig is the minimal connection information needed to relay an
// invite email through an upstream SMTP server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPDispatcher delivers invite emails over plain SMTP with PLAIN auth.
type SMTPDispatcher struct {
	config SMTPConfig
}

func (d *SMTPDispatcher) SendInvite(to, dealID, link string) error {
	addr := fmt.Sprintf("%s:%d", d.config.Host, d.config.Port)
	auth := smtp.PlainAuth("", d.config.Username, d.config.Password, d.config.Host)

	subject := fmt.Sprintf("Subject: Complete your swap %s\r\n", dealID)
	body := fmt.Sprintf("You've been invited to complete an OTC swap. Fill in your details here:\r\n%s\r\n", link)
	msg := []byte(subject + "\r\n" + body)

	return smtp.SendMail(addr, auth, d.config.From, []string{to}, msg)
}
