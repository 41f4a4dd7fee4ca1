package battle

import "github.com/park285/cards-of-power/internal/apperr"

var (
	ErrUnauthenticated = apperr.New(apperr.Unauthenticated, "not authenticated")
	ErrInvalidArgs     = apperr.New(apperr.Invalid, "invalid arguments")
	ErrTurnDuration    = apperr.New(apperr.Invalid, "turn duration must be between 10 and 600 seconds")
	ErrHandIndex       = apperr.New(apperr.Invalid, "hand index out of range")
	ErrSlotIndex       = apperr.New(apperr.Invalid, "field slot must be between 0 and 4")
	ErrSlotOccupied    = apperr.New(apperr.Invalid, "field slot is occupied")
	ErrSlotEmpty       = apperr.New(apperr.Invalid, "field slot is empty")
	ErrBadSource       = apperr.New(apperr.Invalid, "source must be field or hand")
	ErrBadPosition     = apperr.New(apperr.Invalid, "position must be attack or defense")
	ErrBadDelta        = apperr.New(apperr.Invalid, "hp delta must be non-zero and within bounds")
	ErrUnknownTarget   = apperr.New(apperr.Invalid, "target is not seated in this battle")
	ErrDeckEmpty       = apperr.New(apperr.Invalid, "draw pile is empty")

	ErrNotSeated   = apperr.New(apperr.Forbidden, "you are not a player in this battle")
	ErrNotYourTurn = apperr.New(apperr.Forbidden, "it is not your turn")
	ErrJoinOwn     = apperr.New(apperr.Forbidden, "cannot join your own battle")

	ErrNotFound = apperr.New(apperr.NotFound, "battle not found")

	ErrNotWaiting    = apperr.New(apperr.Conflict, "battle is not waiting for players")
	ErrBattleFull    = apperr.New(apperr.Conflict, "battle already has two players")
	ErrNotActive     = apperr.New(apperr.Conflict, "battle is not active")
	ErrPreparation   = apperr.New(apperr.Conflict, "preparation phase is still running")
	ErrNoPreparation = apperr.New(apperr.Conflict, "no preparation phase is running")
	ErrConflict      = apperr.New(apperr.Conflict, "concurrent update, try again")
)
