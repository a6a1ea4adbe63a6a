package domain

import "errors"

var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBanned             = errors.New("user is banned from group")
	ErrEmptyMessage       = errors.New("message has neither text nor image")
	ErrNotInRoom          = errors.New("connection is not in room")
	ErrScreenShareBlocked = errors.New("screen share already active")
	ErrPeerTaken          = errors.New("peer id bound to another connection")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidRole        = errors.New("invalid role")
)
