package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/Bilolbee/apkban/internal/i18n"
	"github.com/Bilolbee/apkban/internal/infra"
)

const (
	pollTimeoutSeconds = 60
	pollRetryDelay     = 3 * time.Second
	maxPollerPanics    = 5
)

// Service long-polls the Bot API and feeds every update through the processor.
type Service struct {
	bot       *api.BotAPI
	processor *UpdateProcessor
	logger    *log.Entry

	// offset is only touched by the poller goroutine
	offset int

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func NewService(bot *api.BotAPI, processor *UpdateProcessor) *Service {
	return &Service{
		bot:       bot,
		processor: processor,
		logger:    log.WithField("component", "bot"),
	}
}

func (s *Service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *Service) Name() string {
	return "bot"
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("service already started")
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.doneOnce = sync.Once{}

	go infra.GoRecoverable(maxPollerPanics, "update_poller", func() {
		s.poll(pollCtx)
	})
	s.logger.WithField("bot", s.bot.Self.UserName).Info("polling started")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		s.logger.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) poll(ctx context.Context) {
	defer func() {
		if ctx.Err() != nil {
			s.doneOnce.Do(func() { close(s.done) })
		}
	}()

	for ctx.Err() == nil {
		if err := s.pollRound(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Warn("polling failed, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(pollRetryDelay):
			}
		}
	}
}

// pollRound runs one GetUpdatesChans session. It returns only after that session's
// goroutine is gone, so a single getUpdates request is ever in flight.
func (s *Service) pollRound(ctx context.Context) error {
	roundCtx, cancel := context.WithCancel(ctx)
	updateConfig := api.NewUpdate(s.offset)
	updateConfig.Timeout = pollTimeoutSeconds
	updateConfig.AllowedUpdates = []string{"message", "my_chat_member"}

	updates, errs := GetUpdatesChans(roundCtx, s.bot, updateConfig)
	defer func() {
		cancel()
		for range updates {
		}
	}()

	for update := range updates {
		if ctx.Err() != nil {
			break
		}
		if update.UpdateID < s.offset {
			continue
		}
		// confirmed before handling, a poisoned update is never fetched again
		s.offset = update.UpdateID + 1
		s.process(ctx, &update)
	}
	if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) process(ctx context.Context, u *api.Update) {
	logger := s.logger.WithField("update_id", u.UpdateID)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("update handler panicked: %v", r)
		}
	}()

	err := s.processor.Process(ctx, u)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	logger.WithError(err).Error("update processing failed")
	if u.Message != nil {
		s.replyFailure(u.Message)
	}
}

func (s *Service) replyFailure(msg *api.Message) {
	reply := api.NewMessage(msg.Chat.ID, i18n.Get("❌ An error occurred. Please try again later.", ""))
	reply.MessageThreadID = msg.MessageThreadID
	reply.ReplyParameters = api.ReplyParameters{
		ChatID:                   msg.Chat.ID,
		MessageID:                msg.MessageID,
		AllowSendingWithoutReply: true,
	}
	if _, err := s.bot.Send(reply); err != nil {
		s.logger.WithError(err).Debug("cant send failure reply")
	}
}
