// Package notify delivers survey results to requesters by email and WhatsApp.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSubject is used when a message carries no subject.
const DefaultSubject = "✅ Drone Survey Request Received"

// AttachmentName is the file name recipients see for the attached report.
const AttachmentName = "Mining_Report.pdf"

// ErrNotConfigured is returned by a channel whose credentials are missing.
var ErrNotConfigured = errors.New("notification channel not configured")

// Message is one notification addressed to a requester.
type Message struct {
	Email   string
	Phone   string
	Subject string
	// Details is the free text embedded in each channel's template.
	Details string
	// AttachmentPath is a local PDF attached to the email, if set.
	AttachmentPath string
	// MediaURL is a public URL sent along with the WhatsApp message, if set.
	MediaURL string
}

// Notifier is a single delivery channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so it is not retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) || errors.Is(err, ErrNotConfigured)
}

// retryOnce runs fn under timeout and, on a transient failure, runs it one
// more time after backoff.
func retryOnce(ctx context.Context, timeout, backoff time.Duration, fn func(context.Context) error) error {
	attempt := func() error {
		if timeout <= 0 {
			return fn(ctx)
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	}

	err := attempt()
	if err == nil || IsPermanent(err) {
		return err
	}

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return fmt.Errorf("%w (retry abandoned: %v)", err, ctx.Err())
	}

	if retryErr := attempt(); retryErr != nil {
		return fmt.Errorf("after retry: %w", retryErr)
	}
	return nil
}

func emailBody(details string) string {
	return "Hello,\n\n" +
		"Your Drone Survey Request has been received successfully.\n\n" +
		"Request Details:\n" +
		"-------------------------\n" +
		details + "\n\n\n" +
		"Thank you,\n" +
		"Drone Mining Monitoring System\n"
}

func whatsAppBody(details string, hasMedia bool) string {
	body := "📌 Drone Survey Request Received\n\n" +
		"Hello,\n\n" +
		"Your Drone Survey Request has been received successfully.\n\n" +
		"Request Details:\n" +
		"-------------------------\n" +
		details + "\n\n" +
		"We will process the drone mapping soon.\n\n"
	if hasMedia {
		body += "📄 Your PDF Report is attached above.\n\n"
	}
	return body + "Thank you,\nDrone Mining Monitoring System"
}
