package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/sessionstate/internal/provider"
	"github.com/roach88/sessionstate/internal/session"
)

// ItemView is one session attribute in command output.
type ItemView struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// SessionResult is printed by get and lock.
type SessionResult struct {
	ID      string     `json:"id"`
	Timeout int        `json:"timeout"`
	LockID  int64      `json:"lock_id,omitempty"`
	Items   []ItemView `json:"items"`
}

// RenderText implements TextRenderer.
func (r SessionResult) RenderText(w io.Writer, p *message.Printer) error {
	var b bytes.Buffer
	p.Fprintf(&b, "session %s (timeout %d min, %d items)\n", r.ID, r.Timeout, len(r.Items))
	if r.LockID != 0 {
		p.Fprintf(&b, "lock id: %d\n", r.LockID)
	}
	for _, it := range r.Items {
		fmt.Fprintf(&b, "  %s = %v\n", it.Key, it.Value)
	}
	_, err := w.Write(b.Bytes())
	return err
}

func sessionResult(id string, data *provider.StoreData, lockID int64) SessionResult {
	items := make([]ItemView, 0, data.Items.Len())
	for _, e := range data.Items.Entries() {
		items = append(items, ItemView{Key: e.Key, Value: e.Value})
	}
	return SessionResult{ID: id, Timeout: data.Timeout, LockID: lockID, Items: items}
}

// unavailable reports a read that returned no data.
func unavailable(f *OutputFormatter, id string, res provider.ItemResult) error {
	if res.Locked {
		return reportFailure(f, ErrCodeLocked, fmt.Sprintf("session %q is locked", id),
			map[string]any{"lock_age": res.LockAge.Round(time.Millisecond).String()})
	}
	return reportFailure(f, ErrCodeNotFound, fmt.Sprintf("session %q not found", id), nil)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Read a session without locking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			f := rootOpts.formatter(cmd)
			res, err := e.p.GetItem(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "get failed", err)
			}
			if !res.Found() {
				return unavailable(f, args[0], res)
			}
			return f.Success(sessionResult(args[0], res.Data, 0))
		},
	}
}

// NewLockCommand creates the lock command.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <session-id>",
		Short: "Lock a session and print its lock id",
		Long: `Take the exclusive lock on a session and print its data and lock id.

The lock is owned by the configured node id. Pass the same --node to release it
from a later invocation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			f := rootOpts.formatter(cmd)
			res, err := e.p.GetItemExclusive(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "lock failed", err)
			}
			if !res.Found() {
				return unavailable(f, args[0], res)
			}
			f.VerboseLog("locked by node %s", e.p.Node())
			return f.Success(sessionResult(args[0], res.Data, res.LockID))
		},
	}
}

// ReleaseOptions holds flags for the release command.
type ReleaseOptions struct {
	*RootOptions
	LockID int64
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReleaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "release <session-id>",
		Short: "Release a lock taken by lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			f := opts.formatter(cmd)
			err = e.p.ReleaseItemExclusive(cmd.Context(), args[0], opts.LockID)
			var serr *session.Error
			switch {
			case errors.As(err, &serr):
				return reportFailure(f, ErrCodeLock, serr.Message, serr.Details)
			case err != nil:
				return WrapExitError(ExitFailure, "release failed", err)
			}
			return f.Success(fmt.Sprintf("released %s", args[0]))
		},
	}

	cmd.Flags().Int64Var(&opts.LockID, "lock-id", 0, "lock id printed by lock (required)")
	_ = cmd.MarkFlagRequired("lock-id")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Remove a session regardless of its lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.p.RemoveItem(cmd.Context(), args[0], 0); err != nil {
				return WrapExitError(ExitFailure, "delete failed", err)
			}
			return rootOpts.formatter(cmd).Success(fmt.Sprintf("deleted %s", args[0]))
		},
	}
}

// PurgeResult is printed by purge.
type PurgeResult struct {
	Purged int `json:"purged"`
}

// RenderText implements TextRenderer.
func (r PurgeResult) RenderText(w io.Writer, p *message.Printer) error {
	_, err := p.Fprintf(w, "purged %d expired sessions\n", r.Purged)
	return err
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.p.PurgeExpired(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "purge failed", err)
			}
			return rootOpts.formatter(cmd).Success(PurgeResult{Purged: n})
		},
	}
}
