package util

import "errors"

var (
	ErrNotPrimary    = errors.New("not primary")
	ErrNotBackup     = errors.New("not backup")
	ErrTimeout       = errors.New("operation timed out")
	ErrNoSuchMailbox = errors.New("no such mailbox")
	ErrMailboxFull   = errors.New("mailbox full")
)
