// Package router turns inbound messenger updates into calls on the auth,
// appeals and AI services, and streams the assistant's replies back out
// within the messenger's rate limits.
package router

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/partnerdesk/backend/internal/ai"
	"github.com/partnerdesk/backend/internal/appeals"
	"github.com/partnerdesk/backend/internal/auth"
	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/metrics"
)

// Update is one inbound message, already unwrapped from the transport.
type Update struct {
	UserID int64
	ChatID int64
	Text   string
}

// Messenger is the outbound surface the router drives.
type Messenger interface {
	// Send posts a message and returns its id for later edits.
	Send(ctx context.Context, chatID int64, text string) (int, error)
	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	// SendWithButton posts a message with one URL button.
	SendWithButton(ctx context.Context, chatID int64, text, label, url string) error
}

// Auth is the slice of the auth service the router consults.
type Auth interface {
	IsAuthorized(ctx context.Context, userID int64) (bool, error)
	Identity(ctx context.Context, userID int64) (*auth.Identity, error)
	Bind(ctx context.Context, partnerCode, phone string, userID int64) error
}

// Appeals is the slice of the appeals service the router writes through.
type Appeals interface {
	AppendUserMessage(ctx context.Context, identity *auth.Identity, text string) error
	AppendAIReply(ctx context.Context, identity *auth.Identity, text string) error
	SetStatus(ctx context.Context, userID int64, status appeals.Status) error
}

// Assistant dispatches one conversation turn.
type Assistant interface {
	Dispatch(ctx context.Context, userID int64, text string) <-chan ai.Event
}

// Outbound rate limits: the messenger allows ~30 msg/s globally and 1 msg/s
// per chat; 25/s leaves headroom for the monitor and broadcaster.
const (
	globalSendRate = 25
	chunkFlushLen  = 80
	chunkFlushAge  = time.Second
)

const (
	msgGreeting       = "Здравствуйте! Я помощник партнёрской программы. Задайте вопрос, и я постараюсь помочь."
	msgAuthRequired   = "Для работы с ботом нужно авторизоваться. Нажмите кнопку и заполните форму."
	msgAuthButton     = "Авторизоваться"
	msgBindOK         = "Авторизация прошла успешно. Теперь можно задавать вопросы."
	msgBindNotFound   = "Не нашли партнёра с такими кодом и телефоном. Проверьте данные и отправьте форму ещё раз."
	msgBindBadPhone   = "Не удалось распознать номер телефона. Укажите его в формате 8XXXXXXXXXX."
	msgBindRetry      = "Сервис авторизации временно недоступен. Попробуйте ещё раз через пару минут."
	msgSpecialistAck  = "Передали ваше обращение специалисту. Ответ придёт в этот чат."
	msgEscalationHint = "Если нужен живой специалист, напишите «позвать специалиста»."
	msgTransient      = "Сервис временно недоступен. Попробуйте повторить запрос позже."
)

// Options tune the router; zero values mean defaults.
type Options struct {
	GlobalSendRate rate.Limit // default 25/s
	PerChatRate    rate.Limit // default 1/s
}

// Router wires the inbound flow together.
type Router struct {
	msgr       Messenger
	auth       Auth
	appeals    Appeals
	assistant  Assistant
	webFormURL string
	log        *slog.Logger

	global *rate.Limiter

	mu       sync.Mutex
	perChat  map[int64]*rate.Limiter
	chatRate rate.Limit
}

// New builds the router. webFormURL is the HTTPS auth form.
func New(msgr Messenger, authSvc Auth, appealsSvc Appeals, assistant Assistant, webFormURL string, log *slog.Logger, opts Options) *Router {
	if opts.GlobalSendRate <= 0 {
		opts.GlobalSendRate = globalSendRate
	}
	if opts.PerChatRate <= 0 {
		opts.PerChatRate = rate.Every(time.Second)
	}
	burst := 1
	if opts.GlobalSendRate != rate.Inf && int(opts.GlobalSendRate) > 1 {
		burst = int(opts.GlobalSendRate)
	}
	return &Router{
		msgr:       msgr,
		auth:       authSvc,
		appeals:    appealsSvc,
		assistant:  assistant,
		webFormURL: webFormURL,
		log:        log,
		global:     rate.NewLimiter(opts.GlobalSendRate, burst),
		perChat:    make(map[int64]*rate.Limiter),
		chatRate:   opts.PerChatRate,
	}
}

// Handle processes one update to completion. The transport calls it from the
// long-poll loop; slow turns should be dispatched on their own goroutine by
// the caller.
func (r *Router) Handle(ctx context.Context, up Update) {
	if up.ChatID == 0 {
		up.ChatID = up.UserID
	}
	uid := logging.MaskUserID(strconv.FormatInt(up.UserID, 10))

	in, payload := classify(up.Text)
	switch in {
	case intentBind:
		r.handleBind(ctx, up, payload, uid)
		return
	case intentStart:
		r.handleStart(ctx, up, uid)
		return
	}

	authorized, err := r.auth.IsAuthorized(ctx, up.UserID)
	if err != nil {
		r.log.Warn("authorization check failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		r.sendText(ctx, up.ChatID, msgTransient)
		return
	}
	if !authorized {
		r.promptAuth(ctx, up.ChatID)
		return
	}

	switch in {
	case intentSpecialist:
		r.handleSpecialist(ctx, up, uid)
	default:
		r.handleChat(ctx, up, uid)
	}
}

func (r *Router) handleStart(ctx context.Context, up Update, uid string) {
	authorized, err := r.auth.IsAuthorized(ctx, up.UserID)
	if err == nil && authorized {
		r.sendText(ctx, up.ChatID, msgGreeting)
		return
	}
	r.promptAuth(ctx, up.ChatID)
}

func (r *Router) handleBind(ctx context.Context, up Update, payload bindPayload, uid string) {
	err := r.auth.Bind(ctx, payload.PartnerCode, payload.PartnerPhone, up.UserID)
	switch {
	case err == nil:
		r.log.Info("partner bound via web form", slog.String("user_id", uid))
		r.sendText(ctx, up.ChatID, msgBindOK)
	case faults.KindOf(err) == faults.KindValidation:
		r.sendText(ctx, up.ChatID, msgBindBadPhone)
	case faults.IsNotFound(err):
		r.sendText(ctx, up.ChatID, msgBindNotFound)
	default:
		r.log.Warn("bind failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		r.sendText(ctx, up.ChatID, msgBindRetry)
	}
}

func (r *Router) handleSpecialist(ctx context.Context, up Update, uid string) {
	identity, err := r.auth.Identity(ctx, up.UserID)
	if err != nil {
		r.log.Warn("identity lookup failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		r.sendText(ctx, up.ChatID, msgTransient)
		return
	}
	if err := r.appeals.AppendUserMessage(ctx, identity, up.Text); err != nil {
		r.log.Warn("appeal append failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
	}
	if err := r.appeals.SetStatus(ctx, up.UserID, appeals.StatusInWork); err != nil {
		r.log.Warn("appeal status change failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		r.sendText(ctx, up.ChatID, msgTransient)
		return
	}
	r.sendText(ctx, up.ChatID, msgSpecialistAck)
}

// handleChat is the default path: record, run the AI turn, stream out.
func (r *Router) handleChat(ctx context.Context, up Update, uid string) {
	identity, err := r.auth.Identity(ctx, up.UserID)
	if err != nil {
		r.log.Warn("identity lookup failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		r.sendText(ctx, up.ChatID, msgTransient)
		return
	}
	if err := r.appeals.AppendUserMessage(ctx, identity, up.Text); err != nil {
		// The turn still runs; the appeal log is best-effort on this path.
		r.log.Warn("appeal append failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
	}

	final := r.streamReply(ctx, up.ChatID, r.assistant.Dispatch(ctx, up.UserID, up.Text))
	switch final.Kind {
	case ai.KindFinal:
		if err := r.appeals.AppendAIReply(ctx, identity, final.Text); err != nil {
			r.log.Warn("ai reply append failed",
				slog.String("user_id", uid),
				slog.String("error", err.Error()))
		}
		if final.Escalate {
			r.sendText(ctx, up.ChatID, msgEscalationHint)
		}
	case ai.KindCancelled:
		// Superseded by a newer message; the newer turn answers.
	case ai.KindFailed:
		// The apology already went out through the streaming path.
	}
}

// streamReply batches chunks into send-then-edit updates and returns the
// terminal event. Flushes when the buffer reaches chunkFlushLen or has aged
// past chunkFlushAge.
func (r *Router) streamReply(ctx context.Context, chatID int64, events <-chan ai.Event) ai.Event {
	var buf strings.Builder
	msgID := 0
	flushedLen := 0
	lastFlush := time.Now()

	flush := func() {
		if buf.Len() == 0 || buf.Len() == flushedLen {
			return
		}
		if msgID == 0 {
			id, err := r.send(ctx, chatID, buf.String())
			if err != nil {
				return
			}
			msgID = id
		} else if err := r.edit(ctx, chatID, msgID, buf.String()); err != nil {
			return
		}
		flushedLen = buf.Len()
		lastFlush = time.Now()
	}

	age := time.NewTicker(chunkFlushAge)
	defer age.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				flush()
				return ai.Event{Kind: ai.KindCancelled}
			}
			switch ev.Kind {
			case ai.KindChunk:
				buf.WriteString(ev.Text)
				if buf.Len()-flushedLen >= chunkFlushLen {
					flush()
				}
			case ai.KindFinal:
				r.deliverFinal(ctx, chatID, msgID, ev.Text)
				return ev
			case ai.KindFailed:
				r.deliverFinal(ctx, chatID, msgID, ev.Text)
				return ev
			case ai.KindCancelled:
				return ev
			}
		case <-age.C:
			if time.Since(lastFlush) >= chunkFlushAge {
				flush()
			}
		}
	}
}

// deliverFinal replaces the streamed message with the full text, or sends it
// fresh when nothing was streamed.
func (r *Router) deliverFinal(ctx context.Context, chatID int64, msgID int, text string) {
	if text == "" {
		return
	}
	if msgID != 0 {
		if err := r.edit(ctx, chatID, msgID, text); err == nil {
			return
		}
	}
	r.sendText(ctx, chatID, text)
}

func (r *Router) promptAuth(ctx context.Context, chatID int64) {
	if err := r.allow(ctx, chatID); err != nil {
		return
	}
	if err := r.msgr.SendWithButton(ctx, chatID, msgAuthRequired, msgAuthButton, r.webFormURL); err != nil {
		metrics.MessengerSends.WithLabelValues("failed").Inc()
		r.log.Warn("auth prompt send failed", slog.String("error", err.Error()))
		return
	}
	metrics.MessengerSends.WithLabelValues("ok").Inc()
}

func (r *Router) sendText(ctx context.Context, chatID int64, text string) {
	_, _ = r.send(ctx, chatID, text)
}

func (r *Router) send(ctx context.Context, chatID int64, text string) (int, error) {
	if err := r.allow(ctx, chatID); err != nil {
		return 0, err
	}
	id, err := r.msgr.Send(ctx, chatID, text)
	if err != nil {
		metrics.MessengerSends.WithLabelValues("failed").Inc()
		r.log.Warn("send failed", slog.String("error", err.Error()))
		return 0, err
	}
	metrics.MessengerSends.WithLabelValues("ok").Inc()
	return id, nil
}

func (r *Router) edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := r.allow(ctx, chatID); err != nil {
		return err
	}
	if err := r.msgr.Edit(ctx, chatID, messageID, text); err != nil {
		metrics.MessengerSends.WithLabelValues("failed").Inc()
		r.log.Warn("edit failed", slog.String("error", err.Error()))
		return err
	}
	metrics.MessengerSends.WithLabelValues("ok").Inc()
	return nil
}

// allow waits on the global and per-chat limiters, in that order.
func (r *Router) allow(ctx context.Context, chatID int64) error {
	if err := r.global.Wait(ctx); err != nil {
		return err
	}
	return r.chatLimiter(chatID).Wait(ctx)
}

func (r *Router) chatLimiter(chatID int64) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.perChat[chatID]
	if !ok {
		l = rate.NewLimiter(r.chatRate, 1)
		r.perChat[chatID] = l
	}
	return l
}
