package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/pkg/logger"
)

type sentMail struct {
	to, subject, body string
}

type fakeMail struct {
	sent []sentMail
	err  error
}

func (f *fakeMail) SendCustom(_ context.Context, to, subject, content string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, content})
	return nil
}

func TestHandleAdmissionCreated(t *testing.T) {
	mail := &fakeMail{}
	n := NewAdmissionNotifier(mail, "admissions@clinic.test", logger.Nop())

	evt, err := model.NewOutboxEvent(model.EventAdmissionCreated, 12, model.AdmissionCreatedPayload{
		AdmissionID: 12, PatientID: 3, SourceVisitID: 7, RequestedBy: 1,
	})
	require.NoError(t, err)

	require.NoError(t, n.HandleAdmissionCreated(context.Background(), evt))
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "admissions@clinic.test", mail.sent[0].to)
	assert.Equal(t, "Admission request #12", mail.sent[0].subject)
	assert.Contains(t, mail.sent[0].body, "Source visit: 7")

	mail.err = errors.New("smtp timeout")
	assert.Error(t, n.HandleAdmissionCreated(context.Background(), evt))
}

func TestHandleAdmissionCreatedDropsMalformedPayload(t *testing.T) {
	mail := &fakeMail{}
	n := NewAdmissionNotifier(mail, "desk@clinic.test", logger.Nop())

	err := n.HandleAdmissionCreated(context.Background(), &model.OutboxEvent{
		EventType: model.EventAdmissionCreated,
		Payload:   []byte("not json"),
	})
	assert.NoError(t, err)
	assert.Empty(t, mail.sent)
}
