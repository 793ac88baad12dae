package domain

import "errors"

var (
	// ErrNotFound - the referenced cdkey or group does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCodeInvalidOrExpired - the cdkey does not exist or its issuance
	// window has closed.
	ErrCodeInvalidOrExpired = errors.New("cdkey invalid or expired")

	// ErrCodeAlreadyUsed - the cdkey was redeemed before; redemption is a
	// one-way transition.
	ErrCodeAlreadyUsed = errors.New("cdkey already used")

	// ErrUnauthorized - the group lacks a live license for the operation.
	ErrUnauthorized = errors.New("group not authorized")
)
