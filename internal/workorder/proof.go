package workorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"workorders/internal/apperr"
	"workorders/internal/eventlog"
	"workorders/models"

	"github.com/labstack/gommon/log"
)

// Documents внешнее хранилище фото подтверждений
type Documents interface {
	Store(ctx context.Context, filename string, data []byte) (string, error)
	Retrieve(ctx context.Context, id string) ([]byte, error)
	Remove(ctx context.Context, id string) error
}

type ProofInput struct {
	ProviderName    string            `json:"provider_name" validate:"required,min=2,max=160"`
	ProviderPhone   string            `json:"provider_phone" validate:"required,min=6,max=40"`
	PixKeyType      models.PixKeyType `json:"pix_key_type" validate:"required,oneof=cpf cnpj phone email random"`
	PixKeyValue     string            `json:"pix_key_value" validate:"required,min=3,max=120"`
	PixReceiverName string            `json:"pix_receiver_name" validate:"required,min=2,max=160"`
}

// Photo файл подтверждения
type Photo struct {
	Filename string
	Data     []byte
}

func (e *engine) cleanProof(in *ProofInput, photo Photo) error {
	in.ProviderName = strings.TrimSpace(in.ProviderName)
	in.ProviderPhone = strings.TrimSpace(in.ProviderPhone)
	in.PixReceiverName = strings.TrimSpace(in.PixReceiverName)
	if err := e.validate.Struct(in); err != nil {
		return apperr.FromValidation(err)
	}
	if len(photo.Data) == 0 {
		return apperr.Validation("file", "Proof photo is required")
	}
	key, err := NormalizePixKey(e.validate, in.PixKeyType, in.PixKeyValue)
	if err != nil {
		return err
	}
	in.PixKeyValue = key
	in.ProviderPhone = NormalizePhone(in.ProviderPhone)
	return nil
}

// assignedProvider имя и телефон победителя переговоров
func assignedProvider(ctx context.Context, tx Tx, wo *models.WorkOrder) (name, phone string, err error) {
	switch {
	case wo.Type == models.TypeQuote && wo.AssignedQuoteID != nil:
		q, err := tx.GetQuote(ctx, *wo.AssignedQuoteID)
		if err != nil {
			return "", "", fmt.Errorf("load assigned quote: %w", err)
		}
		return q.ProviderName, q.ProviderPhone, nil
	case wo.Type == models.TypeFixed && wo.AssignedInterestID != nil:
		i, err := tx.GetInterest(ctx, *wo.AssignedInterestID)
		if err != nil {
			return "", "", fmt.Errorf("load assigned interest: %w", err)
		}
		return i.ProviderName, i.ProviderPhone, nil
	}
	return "", "", apperr.InvalidStage("work order %d has no assigned provider", wo.ID)
}

// correlate мягкая сверка исполнителя: совпадает телефон или имя.
// Это не граница безопасности: держатель токена исполнения может назваться чужим именем.
func correlate(in *ProofInput, name, phone string) error {
	if in.ProviderPhone != "" && in.ProviderPhone == phone {
		return nil
	}
	if strings.EqualFold(in.ProviderName, strings.TrimSpace(name)) {
		return nil
	}
	return apperr.Validation("provider", "Provider does not match the assigned provider")
}

func (e *engine) submitProof(ctx context.Context, tx Tx, wo *models.WorkOrder, in ProofInput, documentID string) (*models.Proof, error) {
	to, err := Next(wo, TriggerSubmitProof, models.Provider)
	if err != nil {
		return nil, err
	}
	name, phone, err := assignedProvider(ctx, tx, wo)
	if err != nil {
		return nil, err
	}
	if err := correlate(&in, name, phone); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	p := &models.Proof{
		WorkOrderID:     wo.ID,
		ProviderName:    in.ProviderName,
		ProviderPhone:   in.ProviderPhone,
		PixKeyType:      in.PixKeyType,
		PixKeyValue:     in.PixKeyValue,
		PixReceiverName: in.PixReceiverName,
		DocumentID:      documentID,
		Status:          models.ProofSubmitted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.CreateProof(ctx, p); err != nil {
		return nil, fmt.Errorf("create proof: %w", err)
	}
	wo.Status = to
	wo.UpdatedAt = now
	if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
		return nil, fmt.Errorf("update work order: %w", err)
	}

	if _, err := e.events.Record(ctx, tx, models.Provider, eventlog.ProofSubmitted, eventlog.EntityProof, p.ID, models.Payload{
		"work_order_id":  wo.ID,
		"provider_name":  p.ProviderName,
		"provider_phone": p.ProviderPhone,
		"pix_key_type":   string(p.PixKeyType),
		"document_id":    documentID,
	}); err != nil {
		return nil, err
	}
	log.Infof("[workorder] proof_submitted work_order_id=%d proof_id=%d", wo.ID, p.ID)
	return p, nil
}

// reviewProof закрывает заявку (approve) или возвращает на доработку (rework)
func (e *engine) reviewProof(ctx context.Context, tx Tx, wo *models.WorkOrder, actor models.Actor, trigger Trigger) (*models.Proof, error) {
	to, err := Next(wo, trigger, actor)
	if err != nil {
		return nil, err
	}
	p, err := tx.LatestProof(ctx, wo.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("work order %d has no proof", wo.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("load latest proof: %w", err)
	}

	status, event := models.ProofApproved, eventlog.ProofApproved
	if trigger == TriggerRequestRework {
		status, event = models.ProofReworkRequested, eventlog.ReworkRequested
	}

	now := e.now().UTC()
	if err := tx.SetProofStatus(ctx, p.ID, status, now); err != nil {
		return nil, fmt.Errorf("set proof status: %w", err)
	}
	p.Status = status
	p.UpdatedAt = now
	wo.Status = to
	wo.UpdatedAt = now
	if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
		return nil, fmt.Errorf("update work order: %w", err)
	}

	if _, err := e.events.Record(ctx, tx, actor, event, eventlog.EntityProof, p.ID, models.Payload{"work_order_id": wo.ID}); err != nil {
		return nil, err
	}
	if to == models.StatusClosed {
		if _, err := e.events.Record(ctx, tx, actor, eventlog.WorkOrderClosed, eventlog.EntityWorkOrder, wo.ID, models.Payload{
			"work_order_id": wo.ID,
			"proof_id":      p.ID,
		}); err != nil {
			return nil, err
		}
	}
	log.Infof("[workorder] %s work_order_id=%d proof_id=%d status=%s", event, wo.ID, p.ID, wo.Status)
	return p, nil
}
