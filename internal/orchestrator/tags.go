package orchestrator

import (
	"context"
	"fmt"

	"github.com/smallbiznis/orderguard/internal/clock"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type TagSyncerParams struct {
	fx.In

	DB       *gorm.DB
	Clock    clock.Clock
	Repo     guarddomain.Repository
	Platform platformdomain.Client
}

// TagSyncer mirrors guard state onto the order's platform tags.
type TagSyncer struct {
	db       *gorm.DB
	clock    clock.Clock
	repo     guarddomain.Repository
	platform platformdomain.Client
}

func NewTagSyncer(p TagSyncerParams) *TagSyncer {
	return &TagSyncer{
		db:       p.DB,
		clock:    p.Clock,
		repo:     p.Repo,
		platform: p.Platform,
	}
}

// SyncTags removes stale guard tags, adds the current ones and records them
// on the order.
func (t *TagSyncer) SyncTags(ctx context.Context, order *guarddomain.Order) error {
	riskTag := guarddomain.RiskTag(order.RiskLevel)
	verificationTag := guarddomain.VerificationTag(order.Status, order.VerificationStatusTag)

	desired := make([]string, 0, 2)
	for _, tag := range []string{riskTag, verificationTag} {
		if tag != "" {
			desired = append(desired, tag)
		}
	}

	var stale []string
	for _, tag := range append(guarddomain.AllRiskTags(), guarddomain.AllVerificationTags()...) {
		if tag != riskTag && tag != verificationTag {
			stale = append(stale, tag)
		}
	}

	if err := t.platform.RemoveTags(ctx, order.MerchantID, order.OrderID, stale); err != nil {
		return fmt.Errorf("remove tags: %w", err)
	}
	if len(desired) > 0 {
		if err := t.platform.AddTags(ctx, order.MerchantID, order.OrderID, desired); err != nil {
			return fmt.Errorf("add tags: %w", err)
		}
	}

	if riskTag == order.RiskStatusTag && verificationTag == order.VerificationStatusTag {
		return nil
	}
	if err := t.repo.UpdateTags(ctx, t.db, order.MerchantID, order.OrderID, riskTag, verificationTag, t.clock.Now()); err != nil {
		return err
	}
	order.RiskStatusTag = riskTag
	order.VerificationStatusTag = verificationTag
	return nil
}
