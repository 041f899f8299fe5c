package email

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"huddle/config"
)

type Service struct {
	cfg config.SMTPConfig
}

func NewService(cfg config.SMTPConfig) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) SendCallMissedEmail(to, callerName string) error {
	subject := "Missed call on Huddle"
	body := fmt.Sprintf(`
        <h2>You have a missed call</h2>
        <p>%s tried to call you on Huddle.</p>
        <p>Log in to call them back!</p>
    `, callerName)

	return s.sendEmail(to, subject, body)
}

func (s *Service) SendMeetingInviteEmail(to, hostName, title string) error {
	subject := fmt.Sprintf("%s invited you to a meeting", hostName)
	body := fmt.Sprintf(`
        <h2>Meeting invitation</h2>
        <p>%s invited you to join "%s" on Huddle.</p>
        <p>Log in to join the meeting.</p>
    `, hostName, title)

	return s.sendEmail(to, subject, body)
}

func (s *Service) sendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Pass)

	return d.DialAndSend(m)
}
