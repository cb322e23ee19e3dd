package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"petcare/internal/config"
	"petcare/internal/domain"
	"petcare/internal/engine/auth"
	"petcare/internal/events"
	"petcare/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

// ValidationError reports input the engine refuses to apply.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// now returns the current instant in the household time zone.
func (e Engine) now() time.Time {
	t := time.Now()
	if e.Now != nil {
		t = e.Now()
	}
	if e.Config != nil {
		return t.In(e.Config.Location())
	}
	return t
}

// Clock exposes the engine's notion of now in the household time zone.
func (e Engine) Clock() time.Time { return e.now() }

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) householdID() (string, error) {
	if e.Config == nil {
		return "", errors.New("config not loaded")
	}
	return e.Config.Household.ID, nil
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, e.Config.Household.ID, entityKind, entityID, actorID, payload)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// InitHousehold creates the household described by cfg, stores the config,
// seeds roles and subjects, and makes actorID its owner.
func (e Engine) InitHousehold(ctx context.Context, cfg *config.Config, description, actorID string) (domain.Household, error) {
	if cfg == nil {
		return domain.Household{}, errors.New("config required")
	}
	if err := cfg.Validate(); err != nil {
		return domain.Household{}, err
	}
	if actorID == "" {
		actorID = "local-user"
	}
	h := domain.Household{
		ID:          cfg.Household.ID,
		Name:        cfg.Household.Name,
		Timezone:    cfg.Household.Timezone,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	e.Config = cfg
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertHouseholdTx(ctx, tx, h); err != nil {
			return fmt.Errorf("insert household: %w", err)
		}
		if err := e.applyConfigTx(ctx, tx, cfg); err != nil {
			return err
		}
		if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
			return fmt.Errorf("ensure actor: %w", err)
		}
		if err := e.Repo.AssignRole(ctx, tx, h.ID, actorID, "owner"); err != nil {
			return fmt.Errorf("assign owner: %w", err)
		}
		return e.appendEvent(ctx, tx, events.HouseholdInit, "household", h.ID, actorID, events.EventPayload{
			"timezone": h.Timezone,
			"subjects": len(cfg.Subjects),
		})
	})
	if err != nil {
		return domain.Household{}, err
	}
	e.log().Info("household initialized", "household", h.ID, "owner", actorID)
	return h, nil
}

// ImportConfig replaces the stored household config and re-seeds roles and
// subjects from it. It returns an engine bound to the new config.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) (Engine, error) {
	hid, err := e.householdID()
	if err != nil {
		return e, err
	}
	cfg.Household.ID = hid
	if err := cfg.Validate(); err != nil {
		return e, err
	}
	next := e
	next.Config = cfg
	err = next.inTx(ctx, func(tx *sql.Tx) error {
		if err := next.applyConfigTx(ctx, tx, cfg); err != nil {
			return err
		}
		return next.appendEvent(ctx, tx, events.ConfigUpdated, "household", hid, actorID, events.EventPayload{
			"timezone": cfg.Household.Timezone,
		})
	})
	if err != nil {
		return e, err
	}
	return next, nil
}

func (e Engine) applyConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	hid := cfg.Household.ID
	if err := e.Repo.UpsertHouseholdConfigTx(ctx, tx, hid, cfg); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	roles := make(map[string][]string, len(cfg.RBAC.Roles))
	for id, role := range cfg.RBAC.Roles {
		roles[id] = role.Permissions
	}
	if err := e.Repo.SyncRolePermissionsTx(ctx, tx, hid, roles); err != nil {
		return fmt.Errorf("sync roles: %w", err)
	}
	if err := e.Repo.SeedSubjectsTx(ctx, tx, cfg.SeedSubjects()); err != nil {
		return fmt.Errorf("seed subjects: %w", err)
	}
	return nil
}

// SubjectInput describes a new subject.
type SubjectInput struct {
	ID      string
	Name    string
	Species string
}

func (e Engine) AddSubject(ctx context.Context, in SubjectInput, actorID string) (domain.Subject, error) {
	hid, err := e.householdID()
	if err != nil {
		return domain.Subject{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Subject{}, invalid("name", "is required")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = slug(name)
	}
	if id == "" {
		id = newItemID(hid, "subject", name)
	}
	s := domain.Subject{
		ID:          id,
		HouseholdID: hid,
		Name:        name,
		Species:     strings.TrimSpace(in.Species),
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertSubjectTx(ctx, tx, s); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.SubjectCreated, "subject", s.ID, actorID, events.EventPayload{"name": s.Name})
	})
	if err != nil {
		return domain.Subject{}, err
	}
	return s, nil
}

// WhoAmI returns the actor's household roles and permissions.
func (e Engine) WhoAmI(ctx context.Context, actorID string) (domain.Member, error) {
	hid, err := e.householdID()
	if err != nil {
		return domain.Member{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, hid, actorID)
	if err != nil {
		return domain.Member{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, tx, hid, actorID)
	if err != nil {
		return domain.Member{}, err
	}
	return domain.Member{HouseholdID: hid, ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

// GrantRole gives target a configured role. The granting actor needs
// household.admin.
func (e Engine) GrantRole(ctx context.Context, actorID, target, role string) error {
	return e.changeRole(ctx, actorID, target, role, true)
}

// RevokeRole removes a role from target. The last owner cannot be removed.
func (e Engine) RevokeRole(ctx context.Context, actorID, target, role string) error {
	return e.changeRole(ctx, actorID, target, role, false)
}

func (e Engine) changeRole(ctx context.Context, actorID, target, role string, grant bool) error {
	hid, err := e.householdID()
	if err != nil {
		return err
	}
	if strings.TrimSpace(target) == "" {
		return invalid("actor_id", "is required")
	}
	if _, ok := e.Config.RBAC.Roles[role]; !ok {
		return invalid("role", "%q is not configured", role)
	}
	if err := e.Auth.Require(ctx, hid, actorID, config.PermHouseholdAdmin); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		evt := events.RoleGranted
		if grant {
			if err := e.Auth.EnsureActor(ctx, tx, target); err != nil {
				return err
			}
			if err := e.Repo.AssignRole(ctx, tx, hid, target, role); err != nil {
				return err
			}
		} else {
			evt = events.RoleRevoked
			if role == "owner" {
				n, err := e.Repo.CountRoleHolders(ctx, tx, hid, role)
				if err != nil {
					return err
				}
				if n <= 1 {
					return invalid("role", "cannot revoke the last owner")
				}
			}
			if err := e.Repo.RevokeRole(ctx, tx, hid, target, role); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, evt, "rbac", target, actorID, events.EventPayload{"role": role})
	})
}

func newItemID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
