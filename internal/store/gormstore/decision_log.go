package gormstore

import (
	"context"
	"errors"
	"time"

	"tiller/internal/store"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type decisionModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	UserID           string `gorm:"index;size:128"`
	Channel          string `gorm:"size:32"`
	Intent           string `gorm:"size:64"`
	DecisionType     string `gorm:"size:32"`
	OperationMode    string `gorm:"size:32"`
	Confidence       float64
	RiskLevel        string `gorm:"size:16"`
	RequiresApproval bool
	AutoExecute      bool
	Status           string `gorm:"index;size:32"`
	FailureReason    string
	Payload          datatypes.JSON
	CreatedAt        time.Time `gorm:"index"`
	ExecutedAt       *time.Time
}

func (decisionModel) TableName() string { return "decision_log" }

func (s *GormStore) Save(ctx context.Context, rec *store.DecisionRecord) error {
	m := toModel(rec)
	return wrapUnavailable(s.db.WithContext(ctx).Save(&m).Error)
}

func (s *GormStore) UpdateStatus(ctx context.Context, id, status, failureReason string) error {
	updates := map[string]any{"status": status, "failure_reason": failureReason}
	if status == "succeeded" || status == "failed" {
		now := time.Now()
		updates["executed_at"] = &now
	}
	return wrapUnavailable(s.db.WithContext(ctx).
		Model(&decisionModel{}).Where("id = ?", id).Updates(updates).Error)
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*store.DecisionRecord, error) {
	var m decisionModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	rec := fromModel(m)
	return &rec, nil
}

func (s *GormStore) ListRecent(ctx context.Context, userID string, limit int) ([]store.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&decisionModel{}).Order("created_at DESC").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var models []decisionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, wrapUnavailable(err)
	}
	out := make([]store.DecisionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func toModel(rec *store.DecisionRecord) decisionModel {
	return decisionModel{
		ID:               rec.ID,
		UserID:           rec.UserID,
		Channel:          rec.Channel,
		Intent:           rec.Intent,
		DecisionType:     rec.DecisionType,
		OperationMode:    rec.OperationMode,
		Confidence:       rec.Confidence,
		RiskLevel:        rec.RiskLevel,
		RequiresApproval: rec.RequiresApproval,
		AutoExecute:      rec.AutoExecute,
		Status:           rec.Status,
		FailureReason:    rec.FailureReason,
		Payload:          datatypes.JSON(rec.Payload),
		CreatedAt:        rec.CreatedAt,
		ExecutedAt:       rec.ExecutedAt,
	}
}

func fromModel(m decisionModel) store.DecisionRecord {
	return store.DecisionRecord{
		ID:               m.ID,
		UserID:           m.UserID,
		Channel:          m.Channel,
		Intent:           m.Intent,
		DecisionType:     m.DecisionType,
		OperationMode:    m.OperationMode,
		Confidence:       m.Confidence,
		RiskLevel:        m.RiskLevel,
		RequiresApproval: m.RequiresApproval,
		AutoExecute:      m.AutoExecute,
		Status:           m.Status,
		FailureReason:    m.FailureReason,
		Payload:          []byte(m.Payload),
		CreatedAt:        m.CreatedAt,
		ExecutedAt:       m.ExecutedAt,
	}
}
