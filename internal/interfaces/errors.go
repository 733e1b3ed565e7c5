package interfaces

import "errors"

// ErrNotFound is returned when a storage lookup matches nothing
var ErrNotFound = errors.New("not found")

// ErrTicketExists is returned when a ticket already exists for a wrapup id
var ErrTicketExists = errors.New("ticket already exists for wrapup")

// ErrRecordClaimed is returned when another job already claimed a recording
var ErrRecordClaimed = errors.New("recording already claimed")
