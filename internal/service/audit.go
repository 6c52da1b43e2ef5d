package service

import (
	"context"
	"encoding/json"

	"creditledger/internal/model"

	"go.uber.org/zap"
)

// SystemActorID tags audit entries written by the settlement engine and
// background jobs rather than a human administrator.
const SystemActorID = "system"

// RequestMeta carries request attribution into audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AuditService appends admin_audit entries. Writes are best effort: the
// business mutation has already committed by the time Log runs, so a failed
// audit write is logged and swallowed, never propagated.
type AuditService struct {
	audits AuditStore
	logger *zap.SugaredLogger
}

func NewAuditService(audits AuditStore, logger *zap.SugaredLogger) *AuditService {
	return &AuditService{audits: audits, logger: logger}
}

type AuditParams struct {
	AdminID    string
	Action     string
	TargetType string
	TargetID   string
	OrgID      string
	Detail     map[string]interface{}
	Meta       RequestMeta
}

// Log records an administrative or system action. Never returns an error.
func (s *AuditService) Log(ctx context.Context, p AuditParams) {
	metadata := ""
	if p.Detail != nil {
		raw, err := json.Marshal(p.Detail)
		if err != nil {
			s.logger.Warnw("audit metadata marshal failed",
				"action", p.Action,
				"target_id", p.TargetID,
				"error", err,
			)
		} else {
			metadata = string(raw)
		}
	}

	entry := &model.AdminAuditEntry{
		AdminID:    p.AdminID,
		Action:     p.Action,
		TargetType: p.TargetType,
		TargetID:   p.TargetID,
		Metadata:   metadata,
		IPAddress:  p.Meta.IPAddress,
		UserAgent:  p.Meta.UserAgent,
		OrgID:      p.OrgID,
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		s.logger.Warnw("audit write failed",
			"admin_id", p.AdminID,
			"action", p.Action,
			"target_type", p.TargetType,
			"target_id", p.TargetID,
			"error", err,
		)
	}
}
