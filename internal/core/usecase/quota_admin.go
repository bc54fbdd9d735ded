package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

type QuotaAdminUseCase struct {
	quota  ports.QuotaManager
	policy ports.AccessPolicy
}

func NewQuotaAdminUseCase(quota ports.QuotaManager, policy ports.AccessPolicy) *QuotaAdminUseCase {
	return &QuotaAdminUseCase{quota: quota, policy: policy}
}

func (uc *QuotaAdminUseCase) Status(_ context.Context, actor *domain.User) ([]domain.ProviderQuota, error) {
	if err := uc.policy.Check(actor, nil, domain.CapQuotaView); err != nil {
		return nil, err
	}
	return uc.quota.Status(), nil
}

func (uc *QuotaAdminUseCase) Reset(_ context.Context, actor *domain.User, provider domain.Provider) error {
	if err := uc.policy.Check(actor, nil, domain.CapQuotaManage); err != nil {
		return err
	}
	for _, known := range uc.quota.Status() {
		if known.Provider == provider {
			uc.quota.ResetServiceQuota(provider)
			return nil
		}
	}
	return domain.WrapError(domain.ErrNotFound, "reset quota", fmt.Errorf("unknown provider %q", provider))
}
