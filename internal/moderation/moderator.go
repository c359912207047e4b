package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/Bilolbee/apkban/internal/errors"
	"github.com/Bilolbee/apkban/internal/detect"
	"github.com/Bilolbee/apkban/internal/policy/escalation"
	"github.com/Bilolbee/apkban/internal/policy/permissions"
	"github.com/Bilolbee/apkban/internal/strikes"
)

type Stage string

const (
	StageScope  Stage = "scope"
	StageDetect Stage = "detect"
	StageExempt Stage = "exempt"
	StageDelete Stage = "delete"
	StageStrike Stage = "strike"
	StageAct    Stage = "act"
	StageDone   Stage = "done"
)

// Result describes how far one event got. Err holds the first failure, classified.
type Result struct {
	EventID    string
	Stage      Stage
	Skipped    bool
	SkipReason string
	Strikes    int
	Action     escalation.Action
	Err        error
}

func (r *Result) fail(stage Stage, err error) {
	if apperrors.Class(err) == nil {
		err = fmt.Errorf("%w: %w", apperrors.ErrTransientPlatform, err)
	}
	if r.Err == nil {
		r.Err = err
	}
	pipelineFailures.WithLabelValues(string(stage), classLabel(err)).Inc()
}

type Options struct {
	ExcludeAdmins bool
	Language      string
	Now           func() time.Time
}

type Moderator struct {
	platform      Platform
	store         *strikes.Store
	policy        escalation.Policy
	matcher       *detect.Matcher
	excludeAdmins bool
	lang          string
	now           func() time.Time
	tracer        trace.Tracer
	logger        *log.Entry
}

func NewModerator(platform Platform, store *strikes.Store, policy escalation.Policy, matcher *detect.Matcher, opts Options) *Moderator {
	m := &Moderator{
		platform:      platform,
		store:         store,
		policy:        policy,
		matcher:       matcher,
		excludeAdmins: opts.ExcludeAdmins,
		lang:          opts.Language,
		now:           opts.Now,
		tracer:        otel.Tracer("github.com/Bilolbee/apkban/internal/moderation"),
		logger:        log.WithField("component", "moderation"),
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Moderator) Policy() escalation.Policy {
	return m.policy
}

// HandleAttachment runs the pipeline for one event to completion or to its first failure.
// Side effects are ordered delete, strike, act; a failed delete records nothing.
func (m *Moderator) HandleAttachment(ctx context.Context, ev AttachmentEvent) *Result {
	res := &Result{EventID: uuid.New(), Stage: StageScope}
	timer := prometheus.NewTimer(pipelineDuration)
	defer timer.ObserveDuration()

	ctx, span := m.tracer.Start(ctx, "moderation.HandleAttachment", trace.WithAttributes(
		attribute.String("event_id", res.EventID),
		attribute.Int64("chat_id", ev.ChatID),
		attribute.Int64("user_id", ev.Sender.ID),
	))
	defer func() {
		span.SetAttributes(attribute.String("stage", string(res.Stage)), attribute.Int("strikes", res.Strikes))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	logger := m.logger.WithFields(log.Fields{
		"event_id":  res.EventID,
		"chat_id":   ev.ChatID,
		"user_id":   ev.Sender.ID,
		"file_name": ev.FileName,
	})

	if !tool.In(ev.ChatType, "group", "supergroup") {
		return m.skip(res, "not a group chat")
	}

	res.Stage = StageDetect
	if !m.matcher.Match(ev.FileName) {
		return m.skip(res, "no package attachment")
	}
	logger.Info("package attachment detected")

	res.Stage = StageExempt
	if m.excludeAdmins {
		role, err := m.platform.GetMemberRole(ctx, ev.ChatID, ev.Sender.ID)
		switch {
		case err != nil:
			logger.WithError(err).Warn("cant resolve member role, treating as regular member")
		case permissions.IsElevated(role):
			logger.WithField("role", role).Info("elevated member sent a package, exempted")
			attachmentsChecked.WithLabelValues("exempt").Inc()
			res.Skipped = true
			res.SkipReason = "elevated role"
			return res
		}
	}

	res.Stage = StageDelete
	if err := m.platform.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
		if apperrors.IsPermission(err) {
			logger.WithError(err).Warn("no rights to delete message, aborting")
		} else {
			logger.WithError(err).Error("cant delete message, aborting")
		}
		res.fail(StageDelete, err)
		attachmentsChecked.WithLabelValues("failed").Inc()
		return res
	}

	res.Stage = StageStrike
	key := strikes.Key{GroupID: ev.ChatID, UserID: ev.Sender.ID}
	count, err := m.store.Increment(ctx, key, strikes.Identity{
		Username:  ev.Sender.Username,
		FirstName: ev.Sender.FirstName,
	})
	if err != nil {
		// the in-memory count stays authoritative
		res.fail(StageStrike, err)
	}
	res.Strikes = count
	res.Action = m.policy.Decide(count)
	logger = logger.WithFields(log.Fields{"strikes": count, "action": res.Action.Kind.String()})

	res.Stage = StageAct
	if err := m.dispatch(ctx, ev, res, logger); err != nil {
		res.fail(StageAct, err)
		attachmentsChecked.WithLabelValues("failed").Inc()
		return res
	}

	res.Stage = StageDone
	actionsDispatched.WithLabelValues(res.Action.Kind.String()).Inc()
	attachmentsChecked.WithLabelValues("enforced").Inc()
	return res
}

func (m *Moderator) skip(res *Result, reason string) *Result {
	res.Skipped = true
	res.SkipReason = reason
	attachmentsChecked.WithLabelValues("ignored").Inc()
	return res
}

func (m *Moderator) dispatch(ctx context.Context, ev AttachmentEvent, res *Result, logger *log.Entry) error {
	mention := Mention(ev.Sender.ID, displayName(ev.Sender), m.lang)
	notice := OutgoingMessage{ChatID: ev.ChatID, ThreadID: ev.ThreadID}

	switch res.Action.Kind {
	case escalation.Mute:
		until := m.now().Add(res.Action.Duration)
		if err := m.platform.RestrictUser(ctx, ev.ChatID, ev.Sender.ID, until); err != nil {
			logger.WithError(err).Error("cant mute user")
			return err
		}
		logger.WithField("until", until).Info("user muted")
		notice.Text = muteText(mention, res.Action.Duration, res.Strikes, m.policy.MaxStrikes, m.lang)

	case escalation.Ban:
		if err := m.platform.BanUser(ctx, ev.ChatID, ev.Sender.ID); err != nil {
			logger.WithError(err).Error("cant ban user")
			return err
		}
		logger.Warn("user banned")
		if _, err := m.store.Reset(ctx, strikes.Key{GroupID: ev.ChatID, UserID: ev.Sender.ID}); err != nil {
			res.fail(StageAct, err)
		}
		notice.Text = banText(mention, res.Strikes, m.lang)

	default:
		notice.Text = warnText(mention, res.Strikes, m.policy.MaxStrikes, m.lang)
	}

	if err := m.platform.SendMessage(ctx, notice); err != nil {
		logger.WithError(err).Error("cant send notice")
		return err
	}
	logger.Info("notice sent")
	return nil
}

func displayName(s Sender) string {
	if s.FirstName != "" {
		return s.FirstName
	}
	return s.Username
}

func classLabel(err error) string {
	switch apperrors.Class(err) {
	case apperrors.ErrPermission:
		return "permission"
	case apperrors.ErrStorageWrite:
		return "storage_write"
	case apperrors.ErrStorageRead:
		return "storage_read"
	default:
		return "transient"
	}
}
