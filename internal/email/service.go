package email

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/opd-api/internal/config"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/pkg/logger"
)

type Service interface {
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg config.EmailConfig) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:   cfg.FromAddress,
	}
}

func (s *smtpService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

// AdmissionNotifier tells the admission desk about new admission requests.
// The mail carries identifiers only; staff open the record in the app.
type AdmissionNotifier struct {
	mail   Service
	desk   string
	logger *logger.Logger
}

func NewAdmissionNotifier(mail Service, desk string, log *logger.Logger) *AdmissionNotifier {
	return &AdmissionNotifier{mail: mail, desk: desk, logger: log}
}

// HandleAdmissionCreated is an outbox handler for admission.created.
func (n *AdmissionNotifier) HandleAdmissionCreated(ctx context.Context, event *model.OutboxEvent) error {
	var p model.AdmissionCreatedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		// Retrying will not fix a bad payload.
		n.logger.Error(err, "Dropping malformed admission event", "event_id", event.ID.String())
		return nil
	}

	subject := fmt.Sprintf("Admission request #%d", p.AdmissionID)
	body := fmt.Sprintf(
		"A new admission request is pending.\n\nAdmission: %d\nPatient: %d\nSource visit: %d\nRequested by: %d\n",
		p.AdmissionID, p.PatientID, p.SourceVisitID, p.RequestedBy,
	)
	if err := n.mail.SendCustom(ctx, n.desk, subject, body); err != nil {
		return err
	}
	n.logger.Info("Admission desk notified", "admission_id", p.AdmissionID)
	return nil
}
