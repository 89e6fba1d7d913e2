// ABOUTME: Error taxonomy for the messaging façade
// ABOUTME: Re-exports component sentinels so callers classify against one package

package messaging

import (
	"errors"

	"github.com/servilocal/mensajeria/internal/directory"
	"github.com/servilocal/mensajeria/internal/messagelog"
	"github.com/servilocal/mensajeria/internal/store"
)

// ErrUnauthenticated is returned when an operation requires an authenticated
// caller and none was supplied. The caller is responsible for redirecting to
// authentication; the façade only reports the condition.
var ErrUnauthenticated = errors.New("authentication required")

// Component sentinels, aliased so callers can classify every failure with
// errors.Is against this package alone.
var (
	ErrInvalidParticipants  = directory.ErrInvalidParticipants
	ErrConversationConflict = directory.ErrConflict
	ErrNotAParticipant      = messagelog.ErrNotAParticipant
	ErrEmptyContent         = messagelog.ErrEmptyContent
	ErrContentTooLong       = messagelog.ErrContentTooLong
	ErrNotFound             = store.ErrNotFound
)
