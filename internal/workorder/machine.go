package workorder

import (
	"workorders/internal/apperr"
	"workorders/models"
)

// Trigger событие, двигающее заявку по жизненному циклу
type Trigger string

const (
	TriggerSubmitQuote    Trigger = "submit_quote"
	TriggerApproveQuote   Trigger = "approve_quote"
	TriggerSubmitInterest Trigger = "submit_interest"
	TriggerSelectInterest Trigger = "select_interest"
	TriggerSubmitProof    Trigger = "submit_proof"
	TriggerApproveProof   Trigger = "approve_proof"
	TriggerRequestRework  Trigger = "request_rework"
	TriggerCancel         Trigger = "cancel"
)

type transition struct {
	typ   models.WorkOrderType // пусто: любой тип
	actor models.ActorType
	from  []models.WorkOrderStatus
	live  bool                   // из любого незавершённого статуса
	to    models.WorkOrderStatus // пусто: статус не меняется
}

var transitions = map[Trigger]transition{
	TriggerSubmitQuote: {
		typ:   models.TypeQuote,
		actor: models.ActorProvider,
		from:  []models.WorkOrderStatus{models.StatusQuoteRequested},
		to:    models.StatusQuoteSubmitted,
	},
	TriggerApproveQuote: {
		typ:   models.TypeQuote,
		actor: models.ActorAdmin,
		from:  []models.WorkOrderStatus{models.StatusQuoteSubmitted},
		to:    models.StatusApprovedForExecution,
	},
	TriggerSubmitInterest: {
		typ:   models.TypeFixed,
		actor: models.ActorProvider,
		from:  []models.WorkOrderStatus{models.StatusOfferOpen},
	},
	TriggerSelectInterest: {
		typ:   models.TypeFixed,
		actor: models.ActorAdmin,
		from:  []models.WorkOrderStatus{models.StatusOfferOpen},
		to:    models.StatusAssigned,
	},
	TriggerSubmitProof: {
		actor: models.ActorProvider,
		from: []models.WorkOrderStatus{
			models.StatusApprovedForExecution,
			models.StatusAssigned,
			models.StatusReworkRequested,
		},
		to: models.StatusProofSubmitted,
	},
	TriggerApproveProof: {
		actor: models.ActorAdmin,
		from:  []models.WorkOrderStatus{models.StatusProofSubmitted},
		to:    models.StatusClosed,
	},
	TriggerRequestRework: {
		actor: models.ActorAdmin,
		from:  []models.WorkOrderStatus{models.StatusProofSubmitted},
		to:    models.StatusReworkRequested,
	},
	TriggerCancel: {
		actor: models.ActorAdmin,
		live:  true,
		to:    models.StatusCanceled,
	},
}

// Next проверяет переход и возвращает новый статус заявки.
// Порядок проверок: актор (Forbidden), тип заявки (InvalidStage), статус (InvalidStage).
func Next(wo *models.WorkOrder, trigger Trigger, actor models.Actor) (models.WorkOrderStatus, error) {
	tr, ok := transitions[trigger]
	if !ok {
		return "", apperr.InvalidStage("unknown trigger %q", trigger)
	}
	if actor.Type != tr.actor {
		return "", apperr.Forbidden("%s requires %s actor", trigger, tr.actor)
	}
	if tr.typ != "" && wo.Type != tr.typ {
		return "", apperr.InvalidStage("%s is not available for %s work orders", trigger, wo.Type)
	}
	if tr.live && !wo.Status.Terminal() {
		return tr.to, nil
	}
	for _, s := range tr.from {
		if s == wo.Status {
			if tr.to == "" {
				return wo.Status, nil
			}
			return tr.to, nil
		}
	}
	return "", apperr.InvalidStage("%s is not available while work order %d is %s", trigger, wo.ID, wo.Status)
}
