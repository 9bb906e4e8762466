package mailer

import (
	"fmt"
	"net/mail"
	"net/smtp"
	"sync"

	"github.com/cyclopcam/logs"
)

// Mailer delivers account notifications. Both calls are fire-and-forget: delivery
// failures are logged, never surfaced to the request that triggered them.
type Mailer interface {
	SendWelcome(email, clearPassword string)
	SendReset(email, requestedBy, clearPassword string)
	SendAlert(email, alertName, messageText string)
}

// IsValidEmail is the gate for the user-add operation. The bootstrap "admin" account
// is created directly against the store, so it is exempt from this check.
func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// NopMailer discards everything.
type NopMailer struct{}

func (NopMailer) SendWelcome(email, clearPassword string)            {}
func (NopMailer) SendReset(email, requestedBy, clearPassword string) {}
func (NopMailer) SendAlert(email, alertName, messageText string)     {}

// MemMailer records sent mail in memory, for tests.
type MemMailer struct {
	lock sync.Mutex
	Sent []string
}

func (m *MemMailer) SendWelcome(email, clearPassword string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.Sent = append(m.Sent, "welcome:"+email)
}

func (m *MemMailer) SendReset(email, requestedBy, clearPassword string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.Sent = append(m.Sent, "reset:"+email+":"+requestedBy)
}

func (m *MemMailer) SendAlert(email, alertName, messageText string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.Sent = append(m.Sent, "alert:"+email+":"+alertName)
}

func (m *MemMailer) All() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string{}, m.Sent...)
}

// SMTPMailer sends account mail through a plain SMTP relay. Each message goes out on
// its own goroutine so that a slow relay never stalls the request that created the user.
type SMTPMailer struct {
	log  logs.Log
	addr string // host:port
	from string
}

func NewSMTPMailer(logger logs.Log, addr, from string) *SMTPMailer {
	return &SMTPMailer{
		log:  logger,
		addr: addr,
		from: from,
	}
}

func (m *SMTPMailer) SendWelcome(email, clearPassword string) {
	body := fmt.Sprintf("Subject: Welcome to log-o\r\n\r\n"+
		"An account has been created for you.\r\n"+
		"Your temporary password is: %v\r\n"+
		"You will be asked to change it on first login.\r\n", clearPassword)
	m.send(email, body)
}

func (m *SMTPMailer) SendReset(email, requestedBy, clearPassword string) {
	body := fmt.Sprintf("Subject: Your log-o password was reset\r\n\r\n"+
		"Your password was reset by %v.\r\n"+
		"Your temporary password is: %v\r\n"+
		"You will be asked to change it on next login.\r\n", requestedBy, clearPassword)
	m.send(email, body)
}

func (m *SMTPMailer) SendAlert(email, alertName, messageText string) {
	body := fmt.Sprintf("Subject: log-o alert: %v\r\n\r\n"+
		"A log message matched your alert '%v':\r\n\r\n%v\r\n", alertName, alertName, messageText)
	m.send(email, body)
}

func (m *SMTPMailer) send(to, body string) {
	go func() {
		msg := fmt.Sprintf("From: %v\r\nTo: %v\r\n%v", m.from, to, body)
		if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
			m.log.Errorf("Failed to send mail to %v: %v", to, err)
		}
	}()
}
