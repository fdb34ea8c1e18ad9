package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/railconnect/booking-backend/internal/models"
)

var emailSubjects = map[models.EventKind]string{
	models.EventBookingConfirmed: "Railway Booking Confirmed - PNR: %s",
	models.EventBookingPending:   "Railway Booking Pending Payment - PNR: %s",
	models.EventBookingCancelled: "Railway Booking Cancelled - PNR: %s",
}

var smsTemplate = template.Must(template.New("sms").Parse(
	`RailConnect: {{if eq .Kind "BOOKING_CANCELLED"}}Booking cancelled{{else if eq .Kind "BOOKING_PENDING"}}Booking pending payment{{else}}Booking confirmed{{end}}. ` +
		`PNR {{.ReservationCode}}, {{.PassengerName}}, train {{if .Schedule.TrainNumber}}{{.Schedule.TrainNumber}}{{else}}{{.TrainID}}{{end}} on {{.TravelDate}}.` +
		`{{if eq .Kind "BOOKING_CANCELLED"}} Refund of {{.Fare.StringFixed 2}} will be processed.{{else}} Fare {{.Fare.StringFixed 2}}.{{end}}`,
))

var emailTextTemplate = template.Must(template.New("email-text").Parse(`Railway Booking {{.Headline}}

PNR: {{.Event.ReservationCode}}
Status: {{.Event.Status}}

Passenger: {{.Event.PassengerName}}
Train: {{.TrainLabel}}
{{if .Event.Schedule.Source}}From: {{.Event.Schedule.Source}}
To: {{.Event.Schedule.Destination}}
{{end}}Date: {{.Event.TravelDate}}
Fare: {{.Event.Fare.StringFixed 2}}

Thank you for choosing RailConnect!
`))

var emailHTMLTemplate = htmltemplate.Must(htmltemplate.New("email-html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #4F46E5; color: white; padding: 20px; text-align: center;">
      <h1>RailConnect</h1>
      <p>Booking {{.Headline}}</p>
    </div>
    <div style="background: #f9fafb; padding: 20px; margin: 20px 0;">
      <p><strong>PNR:</strong> {{.Event.ReservationCode}}</p>
      <p><strong>Status:</strong> {{.Event.Status}}</p>
      <p><strong>Passenger:</strong> {{.Event.PassengerName}}</p>
      <p><strong>Train:</strong> {{.TrainLabel}}</p>
      {{if .Event.Schedule.Source}}<p><strong>Route:</strong> {{.Event.Schedule.Source}} &rarr; {{.Event.Schedule.Destination}}</p>{{end}}
      <p><strong>Travel Date:</strong> {{.Event.TravelDate}}</p>
      <p><strong>Fare:</strong> {{.Event.Fare.StringFixed 2}}</p>
      {{if eq .Event.Kind "BOOKING_PENDING"}}<p style="color: #f59e0b;"><strong>Payment Pending</strong> - complete payment to confirm this booking.</p>{{end}}
    </div>
    <p style="text-align: center; color: #666; font-size: 12px;">Please carry a valid ID during travel.</p>
  </div>
</body>
</html>
`))

type emailView struct {
	Event      models.NotificationEvent
	Headline   string
	TrainLabel string
}

func newEmailView(event models.NotificationEvent) emailView {
	headline := "Confirmed"
	switch event.Kind {
	case models.EventBookingCancelled:
		headline = "Cancelled"
	case models.EventBookingPending:
		headline = "Pending Payment"
	}

	label := fmt.Sprintf("%d", event.TrainID)
	if event.Schedule.TrainName != "" {
		label = fmt.Sprintf("%s (%s)", event.Schedule.TrainName, event.Schedule.TrainNumber)
	}

	return emailView{Event: event, Headline: headline, TrainLabel: label}
}

// renderSMS returns the SMS body for an event
func renderSMS(event models.NotificationEvent) (string, error) {
	var buf bytes.Buffer
	if err := smsTemplate.Execute(&buf, event); err != nil {
		return "", fmt.Errorf("failed to render sms: %w", err)
	}
	return buf.String(), nil
}

// renderEmail returns subject, HTML body and text body for an event
func renderEmail(event models.NotificationEvent) (string, string, string, error) {
	view := newEmailView(event)

	var html, text bytes.Buffer
	if err := emailHTMLTemplate.Execute(&html, view); err != nil {
		return "", "", "", fmt.Errorf("failed to render email html: %w", err)
	}
	if err := emailTextTemplate.Execute(&text, view); err != nil {
		return "", "", "", fmt.Errorf("failed to render email text: %w", err)
	}

	subject := fmt.Sprintf(emailSubjects[event.Kind], event.ReservationCode)
	return subject, html.String(), text.String(), nil
}
