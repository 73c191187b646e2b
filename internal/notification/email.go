package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"time"
)

const otpSubject = "Your TapTurf Verification Code"

var otpHTML = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>TapTurf Email Verification</title>
  </head>
  <body style="margin:0;padding:0;background:#f9fafb;font-family:Arial,sans-serif;">
    <table role="presentation" cellspacing="0" cellpadding="0" border="0" width="100%">
      <tr>
        <td align="center" style="padding:32px 16px;">
          <table role="presentation" cellspacing="0" cellpadding="0" border="0" width="100%" style="max-width:600px;background:#ffffff;border-radius:12px;">
            <tr>
              <td align="center" style="padding:32px 24px;">
                <h1 style="margin:0;font-size:24px;color:#16a34a;">TapTurf Email Verification</h1>
                <p style="margin:16px 0;font-size:16px;color:#374151;">Your verification code is:</p>
                <div style="background:#f3f4f6;border-radius:8px;padding:20px;margin:24px 0;">
                  <p style="margin:0;font-size:32px;font-weight:bold;color:#16a34a;letter-spacing:8px;text-align:center;">{{.Code}}</p>
                </div>
                <p style="margin:16px 0;font-size:14px;color:#6b7280;">This code will expire in <strong>{{.Minutes}} minutes</strong>.</p>
                <p style="margin:24px 0 0;font-size:14px;color:#6b7280;">If you didn't request this code, you can safely ignore this email.</p>
              </td>
            </tr>
          </table>
          <p style="margin:16px 0 0;font-size:12px;color:#9ca3af;">&copy; TapTurf &bull; <a href="https://tapturf.in" style="color:#16a34a;text-decoration:none;">tapturf.in</a></p>
        </td>
      </tr>
    </table>
  </body>
</html>
`))

// NewOTPEmail builds the verification email carrying code for to.
func NewOTPEmail(to, code string, ttl time.Duration) (Message, error) {
	minutes := int(math.Ceil(ttl.Minutes()))
	var html bytes.Buffer
	err := otpHTML.Execute(&html, struct {
		Code    string
		Minutes int
	}{code, minutes})
	if err != nil {
		return Message{}, fmt.Errorf("render otp email: %w", err)
	}
	return Message{
		Kind:        KindEmailOTP,
		Destination: to,
		Subject:     otpSubject,
		Body: fmt.Sprintf("Your verification code is: %s\n\nThis code will expire in %d minutes.\n"+
			"If you didn't request this code, you can safely ignore this email.\n", code, minutes),
		HTML: html.String(),
	}, nil
}
