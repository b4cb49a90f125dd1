// Package queue moves auth code delivery onto asynq so a slow SMTP
// server never holds a request.
package queue

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	auth "github.com/service-laboratory/lab-auth"
)

const (
	TypeSendAuthCode = "email:auth_code"

	defaultMaxRetry = 5
	defaultTimeout  = 30 * time.Second
)

// AuthCodePayload is the task body of TypeSendAuthCode
type AuthCodePayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// TaskClient is the part of asynq.Client the enqueuer needs
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ TaskClient = (*asynq.Client)(nil)

type TaskEnqueuer struct {
	client TaskClient
	log    zerolog.Logger
}

func NewTaskEnqueuer(client TaskClient, log zerolog.Logger) *TaskEnqueuer {
	return &TaskEnqueuer{client: client, log: log}
}

// NewAsynqEnqueuer connects to redis at addr
func NewAsynqEnqueuer(addr string, log zerolog.Logger) (*TaskEnqueuer, *asynq.Client) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: addr})
	return NewTaskEnqueuer(client, log), client
}

// NewAuthCodeEmitter returns an emitter whose auth code events are
// enqueued on redis at addr. Close the client once the emitter is idle.
func NewAuthCodeEmitter(addr string, log zerolog.Logger) (*auth.AsyncEmitter, *asynq.Client) {
	enqueuer, client := NewAsynqEnqueuer(addr, log)
	return enqueuer.Register(auth.NewAsyncEmitter()), client
}

// NewAuthCodeTask builds the delivery task for email and code
func NewAuthCodeTask(email, code string) (*asynq.Task, error) {
	payload, err := json.Marshal(AuthCodePayload{Email: email, Code: code})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode auth code task")
	}
	return asynq.NewTask(TypeSendAuthCode, payload,
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTimeout),
	), nil
}

// EnqueueSendAuthCode schedules delivery of code to email
func (q *TaskEnqueuer) EnqueueSendAuthCode(ctx context.Context, email, code string) error {
	task, err := NewAuthCodeTask(email, code)
	if err != nil {
		return err
	}

	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		q.log.Warn().Err(err).Str("email", email).Msg("enqueue auth code email failed")
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to enqueue auth code")
	}
	return nil
}

// Handle implements auth.EventListener for auth.EventSendAuthCode
func (q *TaskEnqueuer) Handle(ctx context.Context, args ...any) error {
	email, code, err := auth.AuthCodeArgs(args...)
	if err != nil {
		return err
	}
	return q.EnqueueSendAuthCode(ctx, email, code)
}

// Register subscribes the enqueuer on emitter
func (q *TaskEnqueuer) Register(emitter *auth.AsyncEmitter) *auth.AsyncEmitter {
	return emitter.On(auth.EventSendAuthCode, q.Handle)
}

// Notifier delivers a code, mail.AuthCodeNotifier in production
type Notifier interface {
	Notify(ctx context.Context, email, code string) error
}

// Worker runs the asynq handlers
type Worker struct {
	srv      *asynq.Server
	mux      *asynq.ServeMux
	notifier Notifier
	log      zerolog.Logger
}

// NewWorker creates an asynq server with the auth handlers registered.
// Call Run to start it.
func NewWorker(addr string, concurrency int, notifier Notifier, log zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{
		Concurrency: concurrency,
		LogLevel:    asynq.InfoLevel,
	})
	w := &Worker{srv: srv, notifier: notifier, log: log}
	w.mux = w.ServeMux()
	return w
}

// ServeMux returns a mux with every handler of the worker
func (w *Worker) ServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSendAuthCode, w.HandleSendAuthCode)
	return mux
}

// HandleSendAuthCode decodes the task and sends the email. Malformed
// payloads are not retried.
func (w *Worker) HandleSendAuthCode(ctx context.Context, t *asynq.Task) error {
	var p AuthCodePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.log.Error().Err(err).Msg("auth code task payload invalid")
		return goerrors.Wrap(asynq.SkipRetry, goerrors.CategoryBadInput, "invalid auth code payload: "+err.Error())
	}

	if p.Email == "" || p.Code == "" {
		w.log.Error().Msg("auth code task without email or code")
		return goerrors.Wrap(asynq.SkipRetry, goerrors.CategoryBadInput, "auth code payload incomplete")
	}

	if err := w.notifier.Notify(ctx, p.Email, p.Code); err != nil {
		w.log.Warn().Err(err).Str("email", p.Email).Msg("auth code delivery failed")
		return err
	}

	w.log.Debug().Str("email", p.Email).Msg("auth code delivered")
	return nil
}

// Run blocks until shutdown
func (w *Worker) Run() error {
	return w.srv.Run(w.mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}
