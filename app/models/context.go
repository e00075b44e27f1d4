package models

// UserContext carries the authenticated *User on a request context.
type UserContext struct{}
