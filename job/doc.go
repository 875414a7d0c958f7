// Package job defines the unit of deferred work: the producer-side
// [Spec], the store-side wire [Record], the runtime [Job] view handed to
// middleware and extensions, and the [Registry] that turns serialized
// targets back into runnables.
//
// # Wire record
//
// Every job travels as a flat JSON object:
//
//	{"id","name","attempts","maxAttempts","retryAfterSec","runningTimeoutSec","target","backoff"}
//
// attempts is incremented only by the store's reserve script, never by a
// worker. target is the [Codec]-encoded envelope {type, payload}.
//
// # Targets
//
// A target is anything implementing [Runnable]. Register concrete types by
// tag with [RegisterType], or register typed handler functions with
// [RegisterDefinition]:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	    job.WithMaxAttempts(5),
//	)
//
//	job.RegisterDefinition(registry, SendEmail)
//	spec := SendEmail.Spec(EmailInput{To: "alice@example.com"})
//
// # Errors
//
// A target error is retried until maxAttempts is reached. Wrap it with
// [Permanent] to fail immediately.
package job
