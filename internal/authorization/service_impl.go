package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectQueue    = "queue"
	ObjectOrder    = "order"
	ObjectSettings = "settings"
	ObjectStats    = "stats"
	ObjectAPIKey   = "api_key"
)

const (
	ActionQueueProcess = "queue.process"
	ActionQueueSweep   = "queue.sweep"

	ActionOrderView    = "order.view"
	ActionOrderCapture = "order.capture"
	ActionOrderCancel  = "order.cancel"
	ActionOrderEmail   = "order.email"

	ActionSettingsRead  = "settings.read"
	ActionSettingsWrite = "settings.write"

	ActionStatsRead = "stats.read"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRevoke = "api_key.revoke"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, key *apikeydomain.APIKey, object string, action string) error {
	if key == nil || strings.TrimSpace(key.KeyID) == "" || !apikeydomain.ValidRole(key.Role) {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := key.Subject()
	if err := s.ensureGrouping(subject, roleName(key.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per key so a role change on
// the stored key takes effect on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func roleName(role string) string {
	return "role:" + strings.ToLower(role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	scheduler := roleName(apikeydomain.RoleScheduler)
	dashboard := roleName(apikeydomain.RoleDashboard)

	policies := [][]string{
		{scheduler, ObjectQueue, ActionQueueProcess},
		{scheduler, ObjectQueue, ActionQueueSweep},

		{dashboard, ObjectOrder, ActionOrderView},
		{dashboard, ObjectOrder, ActionOrderCapture},
		{dashboard, ObjectOrder, ActionOrderCancel},
		{dashboard, ObjectOrder, ActionOrderEmail},
		{dashboard, ObjectSettings, ActionSettingsRead},
		{dashboard, ObjectSettings, ActionSettingsWrite},
		{dashboard, ObjectStats, ActionStatsRead},
		{dashboard, ObjectAPIKey, ActionAPIKeyView},
		{dashboard, ObjectAPIKey, ActionAPIKeyCreate},
		{dashboard, ObjectAPIKey, ActionAPIKeyRevoke},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
