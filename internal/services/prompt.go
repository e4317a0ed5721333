package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
)

// promptPolicy carries the readiness knobs shared by the SMS, email, and
// voice-result ingestion paths.
type promptPolicy struct {
	// MinOptions makes a task prompt-ready once this many options are
	// pending, even with replies still outstanding.
	MinOptions int
	// ListLimit caps the ranked options shown to the requester.
	ListLimit int
}

// promptRequesterIfReady recomputes prompt-readiness for a collecting task
// and, when ready and the household's single prompt slot is free, moves the
// task to options_ready and queues the ranked option list to the initiator
// over SMS. A task is ready when it has MinOptions pending options, or when
// every contacted sitter has answered and at least one option is pending.
func promptRequesterIfReady(ctx context.Context, tx *gorm.DB, h *domain.Household, task *domain.Task, fallbackPhone string, policy promptPolicy, out *Outcome) error {
	otherAwaiting, err := repo.OtherTaskAwaiting(ctx, tx, h.ID, task.ID)
	if err != nil {
		return err
	}

	outreach, err := repo.CountOutreach(ctx, tx, task.ID)
	if err != nil {
		return err
	}
	responses, err := repo.CountResponses(ctx, tx, task.ID)
	if err != nil {
		return err
	}
	pending, err := repo.CountPendingOptions(ctx, tx, task.ID)
	if err != nil {
		return err
	}

	ready := pending >= int64(policy.MinOptions) || (responses >= outreach && pending > 0)
	if !ready || task.AwaitingParent || otherAwaiting {
		return nil
	}

	if err := repo.MarkOptionsReady(ctx, tx, task.ID); err != nil {
		return err
	}

	options, err := repo.ListPendingOptions(ctx, tx, task.ID, policy.ListLimit)
	if err != nil {
		return err
	}
	if len(options) == 0 {
		return nil
	}

	to := fallbackPhone
	if meta := task.DecodedMetadata(); meta != nil && meta.InitiatorPhone() != "" {
		to = meta.InitiatorPhone()
	}
	if to == "" {
		return nil
	}

	loc := householdLocation(h.Timezone)
	out.sms(to, optionsPrompt(options, task.IntentType, loc), task.ID)
	return nil
}
