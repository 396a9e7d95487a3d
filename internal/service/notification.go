package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"expedite-backend/internal/events"
	"expedite-backend/internal/utils"
)

var mailTemplates = template.Must(template.New("mail").Funcs(template.FuncMap{"money": utils.FormatMoney}).Parse(`
{{define "credentials"}}<p>Hello {{.FirstName}},</p>
<p>Your case <b>{{.CaseNo}}</b> has been received. Sign in at <a href="{{.PortalURL}}">{{.PortalURL}}</a> with:</p>
<p>Email: <b>{{.Email}}</b><br>Temporary password: <b>{{.Password}}</b></p>
<p>Please change your password after signing in.</p>{{end}}
{{define "assignment"}}<p>Hello {{.ManagerName}},</p>
<p>Case <b>{{.CaseNo}}</b> for {{.ApplicantName}} has been assigned to you.</p>{{end}}
{{define "service_level"}}<p>Hello {{.FirstName}},</p>
<p>Your case <b>{{.CaseNo}}</b> now uses the <b>{{.LevelName}}</b> service level.</p>
{{if lt .Delta 0.0}}<p>We refunded {{money .Refund}} to your card.</p>{{else if gt .Delta 0.0}}<p>Your card was charged {{money .Delta}}.</p>{{end}}{{end}}
`))

// NotificationHandlers turn domain events into mail. They run after commit and
// their failures only get logged by the dispatcher.
type NotificationHandlers struct {
	mailer    Mailer
	portalURL string
}

func NewNotificationHandlers(mailer Mailer, portalURL string) *NotificationHandlers {
	return &NotificationHandlers{mailer: mailer, portalURL: portalURL}
}

func (h *NotificationHandlers) Register(d *events.Dispatcher) {
	d.Subscribe(events.NameCaseCreated, h.onCaseCreated)
	d.Subscribe(events.NameServiceLevelChanged, h.onServiceLevelChanged)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s mail: %w", name, err)
	}
	return buf.String(), nil
}

func (h *NotificationHandlers) onCaseCreated(ctx context.Context, e events.Event) error {
	ev, ok := e.(events.CaseCreated)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}

	var firstErr error
	if ev.NewAccount && ev.TempPassword != "" {
		body, err := render("credentials", map[string]any{
			"FirstName": ev.FirstName, "CaseNo": ev.CaseNo, "Email": ev.Email,
			"Password": ev.TempPassword, "PortalURL": h.portalURL,
		})
		if err == nil {
			err = h.mailer.SendTemplatedNotification(ctx, ev.Email, "Your case "+ev.CaseNo+" and portal access", body, ev.CaseID)
		}
		firstErr = err
	}

	if m := ev.CaseManager; m != nil && m.Email != "" {
		body, err := render("assignment", map[string]any{
			"ManagerName": m.Name, "CaseNo": ev.CaseNo, "ApplicantName": ev.FirstName + " " + ev.LastName,
		})
		if err == nil {
			err = h.mailer.SendTemplatedNotification(ctx, m.Email, "New case assigned: "+ev.CaseNo, body, ev.CaseID)
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *NotificationHandlers) onServiceLevelChanged(ctx context.Context, e events.Event) error {
	ev, ok := e.(events.ServiceLevelChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}
	body, err := render("service_level", map[string]any{
		"FirstName": ev.FirstName, "CaseNo": ev.CaseNo, "LevelName": ev.ToLevelName,
		"Delta": ev.Delta, "Refund": -ev.Delta,
	})
	if err != nil {
		return err
	}
	return h.mailer.SendTemplatedNotification(ctx, ev.Email, "Service level updated for case "+ev.CaseNo, body, ev.CaseID)
}
