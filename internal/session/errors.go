package session

import "errors"

var (
	ErrRendezvousUnavailable  = errors.New("rendezvous service unavailable")
	ErrAlreadyActive          = errors.New("session already active")
	ErrInvalidPeerID          = errors.New("invalid peer id")
	ErrPeerUnreachable        = errors.New("peer unreachable")
	ErrLocalStreamUnavailable = errors.New("local audio stream unavailable")
	ErrConnectionFailed       = errors.New("peer connection failed")
	ErrIDTaken                = errors.New("peer id already taken")
)
