// ABOUTME: Platform-neutral notices and the Notifier that renders them
// ABOUTME: NoticeError lets handlers attach a user-facing notice to a failure

package command

import (
	"context"
	"errors"
)

// Kind classifies a notice for rendering and metrics.
type Kind string

const (
	KindInfo       Kind = "info"
	KindSuccess    Kind = "success"
	KindPermission Kind = "permission"
	KindSyntax     Kind = "syntax"
	KindConnection Kind = "connection"
	KindError      Kind = "error"
)

// Field is one name/value row of a notice.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notice is a title/description/fields message for a user.
type Notice struct {
	Kind        Kind
	Title       string
	Description string
	Fields      []Field
}

// Notifier delivers notices to a channel.
type Notifier interface {
	Notify(ctx context.Context, channelID string, n Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, channelID string, n Notice) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, channelID string, n Notice) error {
	return f(ctx, channelID, n)
}

// NoticeError is a handler failure that carries the notice to show for it.
type NoticeError struct {
	Notice Notice
	Err    error
}

func (e *NoticeError) Error() string {
	if e.Err != nil {
		return e.Notice.Title + ": " + e.Err.Error()
	}
	return e.Notice.Title
}

func (e *NoticeError) Unwrap() error {
	return e.Err
}

// Fail builds a NoticeError.
func Fail(kind Kind, title, description string, err error) error {
	return &NoticeError{
		Notice: Notice{Kind: kind, Title: title, Description: description},
		Err:    err,
	}
}

// NoticeFor converts a handler error into the notice shown to the user.
func NoticeFor(err error) Notice {
	var ne *NoticeError
	if errors.As(err, &ne) {
		return ne.Notice
	}
	return Notice{
		Kind:        KindError,
		Title:       "Error",
		Description: "Something went wrong while running that command.",
	}
}
