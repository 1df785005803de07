package sessions

import (
	"errors"
	"fmt"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
)

var (
	ErrPresentationNotFound = fmt.Errorf("presentation %w", apperrors.ErrNotFound)
	ErrBlueprintNotFound    = fmt.Errorf("blueprint %w", apperrors.ErrNotFound)
	ErrSlideNotFound        = fmt.Errorf("slide %w", apperrors.ErrNotFound)
	ErrDayNotFound          = fmt.Errorf("day %w", apperrors.ErrNotFound)
	ErrDayBusy              = errors.New("day is already being generated")
)
