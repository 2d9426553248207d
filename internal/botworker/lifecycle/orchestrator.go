// Package lifecycle sequences admission, registry and runtime calls into the
// deploy, start, stop and delete operations.
//
// A bot row is stopped with no container, or running with exactly one. The
// orchestrator never starts a second sandbox for a bot whose sandbox is
// still alive. Admission is read-then-act and can over-admit slightly under
// concurrent starts for the same owner.
package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/botoralo/botworker/internal/botworker/admission"
	"github.com/botoralo/botworker/internal/botworker/audit"
	"github.com/botoralo/botworker/internal/botworker/errkind"
	"github.com/botoralo/botworker/internal/botworker/observability"
	"github.com/botoralo/botworker/internal/botworker/runtime"
	"github.com/botoralo/botworker/internal/botworker/store"
)

// Registry is the bot record store the orchestrator drives. Both the SQLite
// store and the PostgreSQL store satisfy it.
type Registry interface {
	CreateBot(ctx context.Context, bot *store.Bot) error
	GetBot(ctx context.Context, ownerID, externalID string) (*store.Bot, error)
	ExternalIDTaken(ctx context.Context, externalID string) (bool, error)
	ListBots(ctx context.Context, ownerID string) ([]*store.Bot, error)
	CountRunning(ctx context.Context, ownerID string) (int, error)
	SetCodePath(ctx context.Context, id, codePath string) error
	MarkRunning(ctx context.Context, id, containerID string, startedAt time.Time) error
	MarkStopped(ctx context.Context, id string) error
	DeleteBot(ctx context.Context, id string) error
}

// CodeStore persists uploaded source.
type CodeStore interface {
	Write(botID string, code []byte) (string, error)
	Read(path string) ([]byte, error)
	Delete(path string) error
}

// Admitter decides whether a sandbox may start.
type Admitter interface {
	Check(ctx context.Context, ownerID string, memoryMB int) (admission.Decision, error)
}

// Config holds the orchestrator's collaborators.
type Config struct {
	Registry  Registry
	Code      CodeStore
	Admission Admitter
	Runtime   runtime.Runtime
	// Notifier defaults to audit.LogNotifier.
	Notifier audit.Notifier
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Orchestrator implements the caller-facing lifecycle operations.
type Orchestrator struct {
	registry  Registry
	code      CodeStore
	admission Admitter
	runtime   runtime.Runtime
	notifier  audit.Notifier
	metrics   *metrics
	now       func() time.Time
	newID     func() string
}

// New returns an Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		registry:  cfg.Registry,
		code:      cfg.Code,
		admission: cfg.Admission,
		runtime:   cfg.Runtime,
		notifier:  cfg.Notifier,
		metrics:   newMetrics(),
		now:       cfg.Now,
		newID:     cfg.NewID,
	}
	if o.notifier == nil {
		o.notifier = audit.LogNotifier{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// DeployRequest describes a new bot.
type DeployRequest struct {
	OwnerID    string
	ExternalID string
	Name       string
	// MemoryMB of zero or less means store.DefaultMemoryMB.
	MemoryMB  int
	Code      []byte
	AutoStart bool
}

// Deploy registers a bot, stores its code and optionally starts it. When
// the auto-start fails the bot stays registered and stopped; Deploy then
// returns the bot together with the start error.
func (o *Orchestrator) Deploy(ctx context.Context, req DeployRequest) (info *BotInfo, err error) {
	defer func() { o.metrics.operation(ctx, "deploy", err) }()
	log := observability.WithTrace(ctx)

	switch {
	case req.OwnerID == "":
		return nil, errkind.New(errkind.BadRequest, "missing required field: userId")
	case req.ExternalID == "":
		return nil, errkind.New(errkind.BadRequest, "missing required field: botoraloBotId")
	case req.Name == "":
		return nil, errkind.New(errkind.BadRequest, "missing required field: name")
	case len(req.Code) == 0:
		return nil, errkind.New(errkind.BadRequest, "no code file uploaded and no code field provided")
	}
	memoryMB := req.MemoryMB
	if memoryMB <= 0 {
		memoryMB = store.DefaultMemoryMB
	}

	if err := o.admit(ctx, req.OwnerID, req.ExternalID, memoryMB); err != nil {
		return nil, err
	}

	taken, err := o.registry.ExternalIDTaken(ctx, req.ExternalID)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "failed to check bot id")
	}
	if taken {
		return nil, errkind.New(errkind.BadRequest, "botoraloBotId already in use")
	}

	bot := &store.Bot{
		ID:          o.newID(),
		ExternalID:  req.ExternalID,
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		MemoryMB:    memoryMB,
		Status:      store.StatusStopped,
		AutoRestart: req.AutoStart,
	}
	if err := o.registry.CreateBot(ctx, bot); err != nil {
		if errors.Is(err, store.ErrDuplicateBot) {
			return nil, errkind.New(errkind.BadRequest, "botoraloBotId already in use")
		}
		return nil, errkind.Wrap(errkind.Internal, err, "failed to create bot")
	}

	path, err := o.code.Write(bot.ID, req.Code)
	if err == nil {
		if err = o.registry.SetCodePath(ctx, bot.ID, path); err != nil {
			_ = o.code.Delete(path)
		}
	}
	if err != nil {
		if rbErr := o.registry.DeleteBot(ctx, bot.ID); rbErr != nil {
			log.Error("deploy: rollback failed", "bot", bot.ID, "err", rbErr)
		}
		o.notify(ctx, audit.KindError, bot, "deploy failed: could not store code")
		return nil, errkind.Wrap(errkind.Internal, err, "failed to store code")
	}
	bot.CodePath.String, bot.CodePath.Valid = path, true

	log.Info("bot deployed", "bot", bot.ID, "owner", bot.OwnerID, "external_id", bot.ExternalID, "memory_mb", bot.MemoryMB)
	o.notify(ctx, audit.KindBotDeployed, bot, "deployed")

	if req.AutoStart {
		if _, err := o.start(ctx, bot); err != nil {
			return infoFrom(bot), err
		}
	}
	return infoFrom(bot), nil
}

// Start launches a sandbox for a stopped bot. Starting a bot whose sandbox
// is alive returns the existing container; a running row whose sandbox has
// vanished is converged to stopped and then started normally.
func (o *Orchestrator) Start(ctx context.Context, ownerID, externalID string) (result *StartResult, err error) {
	defer func() { o.metrics.operation(ctx, "start", err) }()

	bot, err := o.lookup(ctx, ownerID, externalID)
	if err != nil {
		return nil, err
	}
	return o.start(ctx, bot)
}

func (o *Orchestrator) start(ctx context.Context, bot *store.Bot) (*StartResult, error) {
	log := observability.WithTrace(ctx)

	if bot.Running() {
		alive, err := o.alive(ctx, bot)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "failed to inspect sandbox")
		}
		if alive {
			log.Info("start: bot already running", "bot", bot.ID, "container", bot.ContainerID.String)
			return &StartResult{Status: "running", ContainerID: bot.ContainerID.String}, nil
		}
		log.Warn("start: sandbox vanished, converging row to stopped", "bot", bot.ID, "container", bot.ContainerID.String)
		if err := o.registry.MarkStopped(ctx, bot.ID); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "failed to update bot")
		}
		clearRunning(bot)
	}

	if err := o.admit(ctx, bot.OwnerID, bot.ExternalID, bot.MemoryMB); err != nil {
		return nil, err
	}
	if !bot.CodePath.Valid || bot.CodePath.String == "" {
		return nil, errkind.New(errkind.Internal, "bot has no stored code")
	}

	handle, err := o.runtime.CreateSandbox(ctx, runtime.SandboxSpec{
		BotID:     bot.ID,
		CodeDir:   filepath.Dir(bot.CodePath.String),
		EntryFile: filepath.Base(bot.CodePath.String),
		MemoryMB:  bot.MemoryMB,
	})
	if err != nil {
		log.Error("start: sandbox creation failed", "bot", bot.ID, "err", err)
		o.notify(ctx, audit.KindError, bot, "start failed: "+err.Error())
		return nil, errkind.Wrap(errkind.Internal, err, "failed to start")
	}

	startedAt := o.now().UTC()
	if err := o.registry.MarkRunning(ctx, bot.ID, handle.ContainerID, startedAt); err != nil {
		// The row cannot point at the sandbox, so the sandbox must not live.
		if rmErr := o.runtime.Remove(ctx, handle); rmErr != nil {
			log.Error("start: failed to remove unrecorded sandbox", "bot", bot.ID, "container", handle.ContainerID, "err", rmErr)
		}
		if errors.Is(err, store.ErrNotStopped) {
			return o.startedElsewhere(ctx, bot)
		}
		return nil, errkind.Wrap(errkind.Internal, err, "failed to record running bot")
	}
	bot.Status = store.StatusRunning
	bot.ContainerID.String, bot.ContainerID.Valid = handle.ContainerID, true
	bot.UptimeStartedAt.Time, bot.UptimeStartedAt.Valid = startedAt, true

	log.Info("bot started", "bot", bot.ID, "container", handle.ContainerID)
	o.notify(ctx, audit.KindBotStarted, bot, "started")
	return &StartResult{Status: "started", ContainerID: handle.ContainerID}, nil
}

// Stop stops the bot's sandbox and marks it stopped. Stopping a stopped bot,
// or one whose sandbox already vanished, succeeds. On a runtime failure the
// row is left unchanged so the caller can retry.
func (o *Orchestrator) Stop(ctx context.Context, ownerID, externalID string) (err error) {
	defer func() { o.metrics.operation(ctx, "stop", err) }()
	log := observability.WithTrace(ctx)

	bot, err := o.lookup(ctx, ownerID, externalID)
	if err != nil {
		return err
	}

	if bot.ContainerID.Valid && bot.ContainerID.String != "" {
		err := o.runtime.Stop(ctx, handleFor(bot))
		if err != nil && !errors.Is(err, runtime.ErrSandboxNotFound) {
			log.Error("stop: runtime failure", "bot", bot.ID, "container", bot.ContainerID.String, "err", err)
			return errkind.Wrap(errkind.Internal, err, "failed to stop container")
		}
	}

	wasRunning := bot.Running()
	if err := o.registry.MarkStopped(ctx, bot.ID); err != nil {
		if errors.Is(err, store.ErrBotNotFound) {
			return errkind.New(errkind.NotFound, "bot not found")
		}
		return errkind.Wrap(errkind.Internal, err, "failed to update bot")
	}
	if wasRunning {
		log.Info("bot stopped", "bot", bot.ID)
		o.notify(ctx, audit.KindBotStopped, bot, "stopped")
	}
	return nil
}

// Delete tears down the sandbox and code on a best-effort basis and then
// always removes the registry row.
func (o *Orchestrator) Delete(ctx context.Context, ownerID, externalID string) (err error) {
	defer func() { o.metrics.operation(ctx, "delete", err) }()
	log := observability.WithTrace(ctx)

	bot, err := o.lookup(ctx, ownerID, externalID)
	if err != nil {
		return err
	}

	if bot.ContainerID.Valid && bot.ContainerID.String != "" {
		if err := o.runtime.Remove(ctx, handleFor(bot)); err != nil {
			log.Warn("delete: sandbox removal failed, continuing", "bot", bot.ID, "err", err)
		}
	}
	if bot.CodePath.Valid && bot.CodePath.String != "" {
		if err := o.code.Delete(bot.CodePath.String); err != nil {
			log.Warn("delete: code removal failed, continuing", "bot", bot.ID, "err", err)
		}
	}

	if err := o.registry.DeleteBot(ctx, bot.ID); err != nil {
		if errors.Is(err, store.ErrBotNotFound) {
			return errkind.New(errkind.NotFound, "bot not found")
		}
		return errkind.Wrap(errkind.Internal, err, "failed to delete bot")
	}

	log.Info("bot deleted", "bot", bot.ID)
	o.notify(ctx, audit.KindBotDeleted, bot, "deleted")
	return nil
}

// Info returns the bot's full record.
func (o *Orchestrator) Info(ctx context.Context, ownerID, externalID string) (*BotInfo, error) {
	bot, err := o.lookup(ctx, ownerID, externalID)
	if err != nil {
		return nil, err
	}
	return infoFrom(bot), nil
}

// List returns the owner's bots without sandbox handles.
func (o *Orchestrator) List(ctx context.Context, ownerID string) ([]BotSummary, error) {
	if ownerID == "" {
		return nil, errkind.New(errkind.BadRequest, "missing required field: userId")
	}
	bots, err := o.registry.ListBots(ctx, ownerID)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "failed to list bots")
	}
	out := make([]BotSummary, 0, len(bots))
	for _, b := range bots {
		out = append(out, summaryFrom(b))
	}
	return out, nil
}

// Code returns the bot's stored source and its file name.
func (o *Orchestrator) Code(ctx context.Context, ownerID, externalID string) ([]byte, string, error) {
	bot, err := o.lookup(ctx, ownerID, externalID)
	if err != nil {
		return nil, "", err
	}
	if !bot.CodePath.Valid || bot.CodePath.String == "" {
		return nil, "", errkind.New(errkind.NotFound, "bot has no stored code")
	}
	data, err := o.code.Read(bot.CodePath.String)
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Internal, err, "failed to read code")
	}
	return data, filepath.Base(bot.CodePath.String), nil
}

// --- helpers ---

func (o *Orchestrator) lookup(ctx context.Context, ownerID, externalID string) (*store.Bot, error) {
	if ownerID == "" {
		return nil, errkind.New(errkind.BadRequest, "missing required field: userId")
	}
	if externalID == "" {
		return nil, errkind.New(errkind.BadRequest, "missing required field: botoraloBotId")
	}
	bot, err := o.registry.GetBot(ctx, ownerID, externalID)
	if errors.Is(err, store.ErrBotNotFound) {
		return nil, errkind.New(errkind.NotFound, "bot not found")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "failed to load bot")
	}
	return bot, nil
}

func (o *Orchestrator) admit(ctx context.Context, ownerID, externalID string, memoryMB int) error {
	d, err := o.admission.Check(ctx, ownerID, memoryMB)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "failed to check plan limits")
	}
	if d.Allowed {
		return nil
	}
	o.metrics.denial(ctx, d.Reason)
	o.notifier.Notify(ctx, audit.Event{
		Kind:    audit.KindDenied,
		Owner:   ownerID,
		Target:  externalID,
		Message: d.Reason,
	})
	return &errkind.Error{Kind: errkind.Forbidden, Message: d.Detail, Err: errors.New(d.Reason)}
}

// startedElsewhere handles losing a start race: a concurrent start already
// recorded its sandbox, so the caller gets that one.
func (o *Orchestrator) startedElsewhere(ctx context.Context, bot *store.Bot) (*StartResult, error) {
	current, err := o.registry.GetBot(ctx, bot.OwnerID, bot.ExternalID)
	if errors.Is(err, store.ErrBotNotFound) {
		return nil, errkind.New(errkind.NotFound, "bot not found")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "failed to load bot")
	}
	if !current.Running() {
		return nil, errkind.New(errkind.Internal, "bot changed state during start, retry")
	}
	observability.WithTrace(ctx).Info("start: concurrent start won", "bot", bot.ID, "container", current.ContainerID.String)
	*bot = *current
	return &StartResult{Status: "running", ContainerID: current.ContainerID.String}, nil
}

// alive reports whether the bot's recorded sandbox is still running.
func (o *Orchestrator) alive(ctx context.Context, bot *store.Bot) (bool, error) {
	status, err := o.runtime.Status(ctx, handleFor(bot))
	if errors.Is(err, runtime.ErrSandboxNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status.State == runtime.StateRunning, nil
}

func (o *Orchestrator) notify(ctx context.Context, kind audit.Kind, bot *store.Bot, msg string) {
	o.notifier.Notify(ctx, audit.Event{
		Kind:    kind,
		Owner:   bot.OwnerID,
		Target:  bot.ExternalID,
		Message: msg,
	})
}

func handleFor(bot *store.Bot) runtime.Handle {
	return runtime.Handle{
		BotID:       bot.ID,
		ContainerID: bot.ContainerID.String,
		Name:        runtime.ContainerNameFor(bot.ID),
	}
}

func clearRunning(bot *store.Bot) {
	bot.Status = store.StatusStopped
	bot.ContainerID.String, bot.ContainerID.Valid = "", false
	bot.UptimeStartedAt.Valid = false
}
