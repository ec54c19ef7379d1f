package notify

import (
	"context"

	"edudesk.io/internal/obs"
)

// LogTransport writes jobs to the log instead of a queue. The job context is
// omitted since it may carry reset links.
type LogTransport struct{}

func (LogTransport) Deliver(_ context.Context, job Job) error {
	obs.Logger().Info().
		Str("job_id", job.ID).
		Str("template", job.Template).
		Str("to", job.To).
		Str("subject", job.Subject).
		Msg("notification_logged")
	return nil
}
